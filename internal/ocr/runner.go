package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrToolMissing means an external binary (pdftotext, tesseract, ...) is not installed.
var ErrToolMissing = errors.New("ocr: tool not found")

// Runner executes an external command. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs real binaries, each bounded by Timeout when set.
type ExecRunner struct {
	Logger  *slog.Logger
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	start := time.Now()
	err := cmd.Run()
	attrs := []any{"tool", name, "args", strings.Join(args, " "), "duration_ms", time.Since(start).Milliseconds()}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		err = fmt.Errorf("%w: %s", ErrToolMissing, name)
		logger.Error("ocr.exec.missing", append(attrs, "error", err)...)
	case err != nil:
		logger.Error("ocr.exec.failed", append(attrs, "error", err, "stderr", truncate(stderr.String(), 8<<10))...)
	default:
		logger.Debug("ocr.exec.ok", append(attrs, "stdout_bytes", stdout.Len())...)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
