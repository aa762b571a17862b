package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/statement-extractor/internal/llm"
)

const systemPrompt = "You extract structured records from bank and custody statements. Reply with a single JSON object and nothing else."

// Generate implements llm.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, nil)
}

// GenerateWithSchema implements llm.SchemaGenerator.
func (c *Client) GenerateWithSchema(ctx context.Context, prompt string, schema json.RawMessage) (string, error) {
	return c.complete(ctx, prompt, schema)
}

// GenerateBatch implements llm.BatchGenerator.
func (c *Client) GenerateBatch(ctx context.Context, prompts []string) ([]string, error) {
	return c.batch(ctx, prompts, nil)
}

// GenerateBatchWithSchema implements llm.SchemaBatchGenerator.
func (c *Client) GenerateBatchWithSchema(ctx context.Context, prompts []string, schema json.RawMessage) ([]string, error) {
	return c.batch(ctx, prompts, schema)
}

// batch fans prompts out with bounded concurrency. Any failure fails the whole batch.
func (c *Client) batch(ctx context.Context, prompts []string, schema json.RawMessage) ([]string, error) {
	start := time.Now()
	out := make([]string, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, p := range prompts {
		i, p := i, p
		g.Go(func() error {
			text, err := c.complete(gctx, p, schema)
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i, err)
			}
			out[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("llm.openai.batch.failed", "size", len(prompts), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	c.logger.Info("llm.openai.batch.ok", "size", len(prompts), "guided", schema != nil && c.cfg.GuidedDecoding,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string, schema json.RawMessage) (string, error) {
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
	}
	if len(schema) > 0 && c.cfg.GuidedDecoding {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "record",
				"schema": schema,
			},
		}
	}

	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		return "", err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", errors.New("no choices in chat response")
	}
	if cc.Choices[0].FinishReason == "length" {
		c.logger.Warn("llm.openai.truncated", "max_tokens", c.cfg.MaxTokens)
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

var (
	_ llm.Generator            = (*Client)(nil)
	_ llm.BatchGenerator       = (*Client)(nil)
	_ llm.SchemaGenerator      = (*Client)(nil)
	_ llm.SchemaBatchGenerator = (*Client)(nil)
)
