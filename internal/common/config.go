package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	LLM      LLMConfig
	Extract  ExtractConfig
	Pipeline PipelineConfig
	Paths    PathsConfig
	Store    StoreConfig
	Server   ServerConfig
	OCR      OCRConfig
	Events   EventsConfig
}

// LLMConfig configures the OpenAI-compatible backend
type LLMConfig struct {
	BaseURL        string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	GuidedDecoding bool
	Concurrency    int
}

// ExtractConfig tunes the batch retry loop
type ExtractConfig struct {
	MaxRetries           int
	CallTimeout          time.Duration
	PartitionConcurrency int
	StrictSchema         bool
	SchemaCacheSize      int
}

// PipelineConfig bounds document and page parallelism
type PipelineConfig struct {
	PageWorkers int
	DocWorkers  int
	HeaderLines int
	QueueSize   int
	DocTimeout  time.Duration
}

// PathsConfig locates rules, schemas, templates and outputs
type PathsConfig struct {
	RulesPath      string
	SchemasDir     string
	PromptTemplate string
	OutputDir      string
	InboxDir       string
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver           string // sqlite | postgres | none
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// OCRConfig names the external transcription tools
type OCRConfig struct {
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	TessdataDir   string
	DPI           int
	MaxPages      int
}

// EventsConfig controls where taxonomy events go
type EventsConfig struct {
	File     string
	LogLevel string
}

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:        getEnv("LLM_BASE_URL", "http://localhost:8000/v1"),
			Model:          getEnv("LLM_MODEL", "Qwen/Qwen2.5-7B-Instruct"),
			APIKey:         getEnv("LLM_API_KEY", ""),
			Temperature:    getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			MaxTokens:      getEnvAsInt("LLM_MAX_TOKENS", 1024),
			Timeout:        getEnvAsDuration("LLM_TIMEOUT", 2*time.Minute),
			GuidedDecoding: getEnvAsBool("LLM_GUIDED_DECODING", true),
			Concurrency:    getEnvAsInt("LLM_CONCURRENCY", 4),
		},
		Extract: ExtractConfig{
			MaxRetries:           getEnvAsInt("EXTRACT_MAX_RETRIES", 2),
			CallTimeout:          getEnvAsDuration("EXTRACT_CALL_TIMEOUT", 2*time.Minute),
			PartitionConcurrency: getEnvAsInt("EXTRACT_PARTITION_CONCURRENCY", 4),
			StrictSchema:         getEnvAsBool("EXTRACT_STRICT_SCHEMA", false),
			SchemaCacheSize:      getEnvAsInt("EXTRACT_SCHEMA_CACHE_SIZE", 16),
		},
		Pipeline: PipelineConfig{
			PageWorkers: getEnvAsInt("PIPELINE_PAGE_WORKERS", 1),
			DocWorkers:  getEnvAsInt("PIPELINE_DOC_WORKERS", 1),
			HeaderLines: getEnvAsInt("PIPELINE_HEADER_LINES", 10),
			QueueSize:   getEnvAsInt("PIPELINE_QUEUE_SIZE", 64),
			DocTimeout:  getEnvAsDuration("PIPELINE_DOC_TIMEOUT", 30*time.Minute),
		},
		Paths: PathsConfig{
			RulesPath:      getEnv("RULES_PATH", "config/rules.json"),
			SchemasDir:     getEnv("SCHEMAS_DIR", "schemas"),
			PromptTemplate: getEnv("PROMPT_TEMPLATE", ""),
			OutputDir:      getEnv("OUTPUT_DIR", "output"),
			InboxDir:       getEnv("INBOX_DIR", ""),
		},
		Store: StoreConfig{
			Driver:           strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
			DSN:              getEnv("STORE_DSN", "file:soa.db?_pragma=busy_timeout(5000)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		OCR: OCRConfig{
			Pdftotext:     getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MaxPages:      getEnvAsInt("OCR_MAX_PAGES", 0),
		},
		Events: EventsConfig{
			File:     getEnv("EVENTS_FILE", ""),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return ConfigError("LLM_BASE_URL is required")
	}
	if c.LLM.Model == "" {
		return ConfigError("LLM_MODEL is required")
	}
	if c.Extract.MaxRetries < 0 {
		return ConfigError("EXTRACT_MAX_RETRIES must be >= 0")
	}
	if c.Pipeline.PageWorkers < 1 || c.Pipeline.DocWorkers < 1 {
		return ConfigError("PIPELINE_PAGE_WORKERS and PIPELINE_DOC_WORKERS must be >= 1")
	}
	if c.Paths.RulesPath == "" {
		return ConfigError("RULES_PATH is required")
	}
	if c.Paths.SchemasDir == "" {
		return ConfigError("SCHEMAS_DIR is required")
	}
	switch c.Store.Driver {
	case StoreNone:
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			return ConfigError("STORE_DSN is required for store driver " + c.Store.Driver)
		}
	default:
		return ConfigError("STORE_DRIVER must be sqlite, postgres or none")
	}
	return nil
}
