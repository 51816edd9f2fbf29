package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingestion IngestionConfig `yaml:"ingestion"`
}

// IngestionConfig controls the document ingestion pipeline (spec §4).
type IngestionConfig struct {
	VectorDim           int                  `yaml:"vectorDim"`
	MaxFileMBManual     int                  `yaml:"maxFileMbManual"`
	MaxFileMBExternal   int                  `yaml:"maxFileMbExternal"`
	CallbackBodyCapMB   int                  `yaml:"callbackBodyCapMb"`
	FastLaneFormats     []string             `yaml:"fastLaneFormats"`
	HeavyLaneFormats    []string             `yaml:"heavyLaneFormats"`
	AllowedFormats      []string             `yaml:"allowedFormats"`
	Quality             QualityConfig        `yaml:"quality"`
	EventBus            EventBusConfig       `yaml:"eventBus"`
	JobQueue            JobQueueConfig       `yaml:"jobQueue"`
	Worker              WorkerDispatchConfig `yaml:"worker"`
	BulkDeleteCap       int                  `yaml:"bulkDeleteCap"`
	ProfileVersionRetry int                  `yaml:"profileVersionRetry"`
	DefaultSearchTopK   int                  `yaml:"defaultSearchTopK"`
	DefaultAlpha        float64              `yaml:"defaultAlpha"`
	ContentStoreRoot    string               `yaml:"contentStoreRoot"`
	APIKey              string               `yaml:"apiKey"`
	EventsRequireAuth   bool                 `yaml:"eventsRequireAuth"`
	Postgres            PostgresConfig       `yaml:"postgres"`
	Valkey              RedisConfig          `yaml:"valkey"`
	Storage             UploadStorageConfig  `yaml:"storage"`
}

// QualityConfig configures the post-conversion quality gate (spec §4.5.3a).
type QualityConfig struct {
	MinLength     int     `yaml:"minLength"`
	MaxNoiseRatio float64 `yaml:"maxNoiseRatio"`
}

// EventBusConfig sizes the in-process pub/sub subscriber buffers.
type EventBusConfig struct {
	SubscriberBuffer int `yaml:"subscriberBuffer"`
}

// JobQueueConfig controls the durable heavy-lane FIFO.
type JobQueueConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	RetryBudget  int           `yaml:"retryBudget"`
	BaseBackoff  time.Duration `yaml:"baseBackoff"`
	LeaseTimeout time.Duration `yaml:"leaseTimeout"`
}

// WorkerDispatchConfig configures the external worker-pool HTTP dispatcher.
type WorkerDispatchConfig struct {
	DispatchURL string        `yaml:"dispatchUrl"`
	CallbackURL string        `yaml:"callbackUrl"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// LLMConfig contains ChatGPT/OpenAI settings used by the embedding client.
type LLMConfig struct {
	APIKey         string  `yaml:"apiKey"`
	BaseURL        string  `yaml:"baseUrl"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embeddingModel"`
	Temperature    float32 `yaml:"temperature"`
}

// UploadStorageConfig configures object storage (used for ingestion blobs).
type UploadStorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// RedisConfig contains connection information for cache/queue backends.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_READ_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("INGESTION_VECTOR_DIM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.VectorDim = parsed
		}
	}
	if v := os.Getenv("INGESTION_MAX_FILE_MB_MANUAL"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.MaxFileMBManual = parsed
		}
	}
	if v := os.Getenv("INGESTION_MAX_FILE_MB_EXTERNAL"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.MaxFileMBExternal = parsed
		}
	}
	if v := os.Getenv("INGESTION_CALLBACK_BODY_CAP_MB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.CallbackBodyCapMB = parsed
		}
	}
	if v := os.Getenv("INGESTION_JOBQUEUE_CONCURRENCY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.JobQueue.Concurrency = parsed
		}
	}
	if v := os.Getenv("INGESTION_JOBQUEUE_RETRY_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.JobQueue.RetryBudget = parsed
		}
	}
	if v := os.Getenv("INGESTION_WORKER_DISPATCH_URL"); v != "" {
		cfg.Ingestion.Worker.DispatchURL = v
	}
	if v := os.Getenv("INGESTION_WORKER_CALLBACK_URL"); v != "" {
		cfg.Ingestion.Worker.CallbackURL = v
	}
	if v := os.Getenv("INGESTION_VALKEY_ENABLED"); v != "" {
		cfg.Ingestion.Valkey.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("INGESTION_VALKEY_ADDR"); v != "" {
		cfg.Ingestion.Valkey.Addr = v
	}
	if v := os.Getenv("INGESTION_POSTGRES_DSN"); v != "" {
		cfg.Ingestion.Postgres.DSN = v
	}
	if v := os.Getenv("INGESTION_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("INGESTION_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("INGESTION_STORAGE_ENDPOINT"); v != "" {
		cfg.Ingestion.Storage.Endpoint = v
	}
	if v := os.Getenv("INGESTION_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Ingestion.Storage.AccessKey = v
	}
	if v := os.Getenv("INGESTION_STORAGE_SECRET_KEY"); v != "" {
		cfg.Ingestion.Storage.SecretKey = v
	}
	if v := os.Getenv("INGESTION_STORAGE_BUCKET"); v != "" {
		cfg.Ingestion.Storage.Bucket = v
	}
	if v := os.Getenv("INGESTION_STORAGE_REGION"); v != "" {
		cfg.Ingestion.Storage.Region = v
	}
	if v := os.Getenv("INGESTION_CONTENT_STORE_ROOT"); v != "" {
		cfg.Ingestion.ContentStoreRoot = v
	}
	if v := os.Getenv("INGESTION_API_KEY"); v != "" {
		cfg.Ingestion.APIKey = v
	}
	if v := os.Getenv("INGESTION_EVENTS_REQUIRE_AUTH"); v != "" {
		cfg.Ingestion.EventsRequireAuth = v == "1" || strings.EqualFold(v, "true")
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address: ":8080",
			AllowedOrigins: []string{
				"*",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude: []string{
					"/api/documents",
					"/internal/callback",
				},
			},
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.2,
		},
		Ingestion: IngestionConfig{
			VectorDim:         1536,
			MaxFileMBManual:   50,
			MaxFileMBExternal: 100,
			CallbackBodyCapMB: 100,
			FastLaneFormats:   []string{"JSON", "TXT", "MD"},
			HeavyLaneFormats:  []string{"PDF", "PPTX", "XLSX", "EPUB", "HTML"},
			AllowedFormats:    []string{"PDF", "JSON", "TXT", "MD", "DOCX", "XLSX", "CSV", "PPTX", "HTML", "EPUB"},
			Quality: QualityConfig{
				MinLength:     20,
				MaxNoiseRatio: 0.6,
			},
			EventBus: EventBusConfig{
				SubscriberBuffer: 256,
			},
			JobQueue: JobQueueConfig{
				Concurrency:  1,
				RetryBudget:  3,
				BaseBackoff:  time.Second,
				LeaseTimeout: 2 * time.Minute,
			},
			Worker: WorkerDispatchConfig{
				Timeout: 30 * time.Second,
			},
			BulkDeleteCap:       100,
			ProfileVersionRetry: 20,
			DefaultSearchTopK:   5,
			DefaultAlpha:        0.7,
			ContentStoreRoot:    "./data/ingestion",
			EventsRequireAuth:   false,
			Postgres: PostgresConfig{
				MaxConns: 10,
				MinConns: 2,
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if strings.TrimSpace(c.LLM.EmbeddingModel) == "" {
		return errors.New("llm.embeddingModel cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if c.Ingestion.VectorDim <= 0 {
		return errors.New("ingestion.vectorDim must be positive")
	}
	if c.Ingestion.MaxFileMBManual <= 0 || c.Ingestion.MaxFileMBExternal <= 0 {
		return errors.New("ingestion.maxFileMb{Manual,External} must be positive")
	}
	if c.Ingestion.JobQueue.Concurrency <= 0 {
		return errors.New("ingestion.jobQueue.concurrency must be positive")
	}
	if c.Ingestion.BulkDeleteCap <= 0 {
		return errors.New("ingestion.bulkDeleteCap must be positive")
	}
	if c.Ingestion.DefaultAlpha < 0 || c.Ingestion.DefaultAlpha > 1 {
		return errors.New("ingestion.defaultAlpha must be in [0,1]")
	}
	if c.Ingestion.Valkey.Enabled && strings.TrimSpace(c.Ingestion.Valkey.Addr) == "" {
		return errors.New("ingestion.valkey.addr cannot be empty when ingestion.valkey is enabled")
	}
	if strings.TrimSpace(c.Ingestion.APIKey) == "" {
		return errors.New("ingestion.apiKey cannot be empty: required to authenticate /api/* requests")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var result []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			result = append(result, val)
		}
	}
	return result
}
