package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Storage   StorageConfig
	OCR       OCRConfig
	Vision    VisionConfig
	Inference InferenceConfig
	LLM       LLMConfig
	LogLevel  string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
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
	HTTPAddr string
	GRPCAddr string
}

// RedisConfig holds the connection used by the queue and the progress channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig selects and sizes the task queue.
type QueueConfig struct {
	Backend     string // "asynq" | "memory"
	Name        string
	Concurrency int
}

// StorageConfig holds upload/output locations and upload size bounds (inclusive).
type StorageConfig struct {
	UploadDir      string
	OutputDir      string
	UploadMinBytes int64
	UploadMaxBytes int64
}

// OCRConfig holds page rendering and fan-out settings.
type OCRConfig struct {
	Pdftoppm         string
	DPI              int
	MaxPages         int
	PageConcurrency  int
	ArtifactCacheDir string
}

// VisionConfig configures the synchronous multimodal OCR provider.
type VisionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// InferenceConfig configures the polling remote-job OCR provider.
type InferenceConfig struct {
	APIToken     string
	BaseURL      string
	ModelVersion string
	PollInterval time.Duration
	Timeout      time.Duration
}

// LLMConfig holds translation/transliteration model configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr: getEnv("GRPC_ADDR", ":9090"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Backend:     getEnv("QUEUE_BACKEND", "asynq"),
			Name:        getEnv("QUEUE_NAME", "documents"),
			Concurrency: getEnvAsInt("QUEUE_CONCURRENCY", 2),
		},
		Storage: StorageConfig{
			UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
			OutputDir:      getEnv("OUTPUT_DIR", "./outputs"),
			UploadMinBytes: getEnvAsInt64("UPLOAD_MIN_BYTES", 1),
			UploadMaxBytes: getEnvAsInt64("UPLOAD_MAX_BYTES", 50<<20),
		},
		OCR: OCRConfig{
			Pdftoppm:         getEnv("PDFTOPPM", "pdftoppm"),
			DPI:              getEnvAsInt("OCR_DPI", 200),
			MaxPages:         getEnvAsInt("OCR_MAX_PAGES", 0),
			PageConcurrency:  getEnvAsInt("OCR_PAGE_CONCURRENCY", 0),
			ArtifactCacheDir: getEnv("ARTIFACT_CACHE_DIR", "./tmp"),
		},
		Vision: VisionConfig{
			APIKey:  getEnv("VISION_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL: getEnv("VISION_BASE_URL", "https://api.openai.com/v1"),
			Model:   getEnv("VISION_MODEL", "gpt-4o"),
			Timeout: getEnvAsDuration("VISION_TIMEOUT", 120*time.Second),
		},
		Inference: InferenceConfig{
			APIToken:     getEnv("INFERENCE_API_TOKEN", ""),
			BaseURL:      getEnv("INFERENCE_BASE_URL", "https://api.replicate.com/v1"),
			ModelVersion: getEnv("INFERENCE_MODEL_VERSION", ""),
			PollInterval: getEnvAsDuration("INFERENCE_POLL_INTERVAL", 4*time.Second),
			Timeout:      getEnvAsDuration("INFERENCE_TIMEOUT", 300*time.Second),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 120*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration. Provider credentials are optional:
// a missing key makes that stage report "skipped" instead of failing startup.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	switch c.Queue.Backend {
	case "asynq", "memory":
	default:
		return NewAppError("CONFIG_ERROR", "QUEUE_BACKEND must be asynq or memory", ErrInvalidInput)
	}
	if c.Storage.UploadMinBytes < 0 || c.Storage.UploadMaxBytes < c.Storage.UploadMinBytes {
		return NewAppError("CONFIG_ERROR", "UPLOAD_MIN_BYTES/UPLOAD_MAX_BYTES are inconsistent", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	return nil
}
