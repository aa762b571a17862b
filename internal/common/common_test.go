package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("EXTRACT_MAX_RETRIES", "")
	t.Setenv("LLM_GUIDED_DECODING", "")
	cfg := LoadConfig()

	assert.Equal(t, 2, cfg.Extract.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Extract.CallTimeout)
	assert.False(t, cfg.Extract.StrictSchema)
	assert.Equal(t, 10, cfg.Pipeline.HeaderLines)
	assert.True(t, cfg.LLM.GuidedDecoding)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("EXTRACT_MAX_RETRIES", "5")
	t.Setenv("EXTRACT_STRICT_SCHEMA", "true")
	t.Setenv("LLM_TEMPERATURE", "0.3")
	t.Setenv("LLM_TIMEOUT", "15s")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("PIPELINE_PAGE_WORKERS", "not-a-number")
	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.Extract.MaxRetries)
	assert.True(t, cfg.Extract.StrictSchema)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, 1, cfg.Pipeline.PageWorkers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no base url", func(c *Config) { c.LLM.BaseURL = "" }},
		{"negative retries", func(c *Config) { c.Extract.MaxRetries = -1 }},
		{"no page workers", func(c *Config) { c.Pipeline.PageWorkers = 0 }},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"no dsn", func(c *Config) { c.Store.DSN = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "CONFIG_ERROR", appErr.Code)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	cfg := LoadConfig()
	cfg.Store.Driver, cfg.Store.DSN = StoreNone, ""
	assert.NoError(t, cfg.Validate())
}

func TestToStatus(t *testing.T) {
	assert.Nil(t, ToStatus(nil))
	assert.Equal(t, codes.NotFound, status.Code(ToStatus(WrapError(ErrNotFound, "doc"))))
	assert.Equal(t, codes.InvalidArgument, status.Code(ToStatus(NewAppError("X", "bad", ErrValidation))))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(ToStatus(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(ToStatus(errors.New("boom"))))

	already := NotFoundError("gone")
	assert.Equal(t, already, ToStatus(already))
}

func TestRequestValidator(t *testing.T) {
	v := NewValidator().
		Field("file", " ", Required).
		Field("doc_id", "not-a-uuid", OptionalUUID).
		Field("pages[0].page", float64(0), PositiveInt).
		Field("pages", []any{1}, Required)

	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 3)
	err := ValidateAndReturnError(v)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, err.Error(), "must be a valid UUID")

	ok := NewValidator().Field("doc_id", "", OptionalUUID).Field("page", float64(3), PositiveInt)
	assert.NoError(t, ValidateAndReturnError(ok))
}

func TestContextValues(t *testing.T) {
	ctx := WithDocID(WithRequestID(context.Background(), "req-1"), "doc-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "doc-1", DocIDFromContext(ctx))
	assert.Empty(t, DocIDFromContext(context.Background()))
}

func TestAppErrorCodesMatchSentinels(t *testing.T) {
	err := WrapError(DBError("insert event", errors.New("disk full")), "store")
	assert.ErrorIs(t, err, ErrDatabase)
	assert.NotErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, codes.Unavailable, status.Code(ToStatus(err)))

	assert.ErrorIs(t, ConfigError("bad"), ErrInvalidInput)
	assert.Equal(t, "CONFIG_ERROR: bad", ConfigError("bad").Error())
}
