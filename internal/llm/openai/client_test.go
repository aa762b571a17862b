package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/statement-extractor/internal/llm"
)

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	ResponseFormat map[string]any   `json:"response_format"`
}

func newServer(t *testing.T, handler func(req chatRequest) (int, string)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, content := handler(req)
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(content))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}, "finish_reason": "stop"}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func lastUserMessage(req chatRequest) string {
	return req.Messages[len(req.Messages)-1]["content"].(string)
}

func TestGenerate(t *testing.T) {
	srv, calls := newServer(t, func(req chatRequest) (int, string) {
		assert.Equal(t, "test-model", req.Model)
		assert.Nil(t, req.ResponseFormat)
		return http.StatusOK, "  {\"echo\": \"" + lastUserMessage(req) + "\"}  "
	})
	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "test-model"}, nil)

	out, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"echo": "hello"}`, out)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGenerateBatchWithSchemaPreservesOrder(t *testing.T) {
	srv, calls := newServer(t, func(req chatRequest) (int, string) {
		if !assert.NotNil(t, req.ResponseFormat) {
			return http.StatusBadRequest, "missing response_format"
		}
		assert.Equal(t, "json_schema", req.ResponseFormat["type"])
		js := req.ResponseFormat["json_schema"].(map[string]any)
		assert.Equal(t, map[string]any{"type": "object"}, js["schema"])
		p := lastUserMessage(req)
		if p == "p0" {
			time.Sleep(20 * time.Millisecond)
		}
		return http.StatusOK, p
	})
	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key", GuidedDecoding: true, Concurrency: 3}, nil)

	prompts := []string{"p0", "p1", "p2", "p3"}
	out, err := c.GenerateBatchWithSchema(context.Background(), prompts, json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)
	assert.Equal(t, prompts, out)
	assert.EqualValues(t, 4, calls.Load())
}

func TestSchemaIgnoredWithoutGuidedDecoding(t *testing.T) {
	srv, _ := newServer(t, func(req chatRequest) (int, string) {
		assert.Nil(t, req.ResponseFormat)
		return http.StatusOK, "{}"
	})
	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"}, nil)
	_, err := c.GenerateWithSchema(context.Background(), "x", json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)
}

func TestBatchFailureFailsWholeBatch(t *testing.T) {
	srv, _ := newServer(t, func(req chatRequest) (int, string) {
		if lastUserMessage(req) == "bad" {
			return http.StatusInternalServerError, "CUDA out of memory. Tried to allocate 2.00 GiB"
		}
		return http.StatusOK, "{}"
	})
	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"}, nil)

	out, err := c.GenerateBatch(context.Background(), []string{"ok", "bad", "ok"})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, llm.ErrOutOfMemory)

	var herr *llm.HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusInternalServerError, herr.Status)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "slow")
	require.Error(t, err)
	assert.True(t, llm.IsTimeout(err), fmt.Sprintf("%v", err))
}

func TestNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := c.Generate(context.Background(), "x")
	assert.ErrorContains(t, err, "no choices")
}
