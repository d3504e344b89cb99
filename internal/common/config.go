package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	OCR        OCRConfig
	Preprocess PreprocessConfig
	Pipeline   PipelineConfig
	LLM        LLMConfig
	Watch      WatchConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string // sqlite | postgres
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string
	GRPCAddr       string
	MaxUploadBytes int64
}

// OCRConfig holds text-detection configuration
type OCRConfig struct {
	Engine      string // tesseract | gosseract
	Binary      string
	Lang        string
	PSM         int
	OEM         int
	TessdataDir string
	PoolSize    int
	CacheTTL    time.Duration
}

// PreprocessConfig holds the adaptive threshold parameters
type PreprocessConfig struct {
	BlockSize int
	C         float64
	Method    string // gaussian | mean
}

type PipelineConfig struct {
	RequestTimeout       time.Duration
	AllowEmptyTranscript bool
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// WatchConfig enables directory intake in the server when Dir is set.
type WatchConfig struct {
	Dir      string
	DocType  string
	Debounce time.Duration
	Workers  int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":7000"),
			GRPCAddr:       getEnv("GRPC_ADDR", ":7001"),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_MB", 20)) << 20,
		},
		OCR: OCRConfig{
			Engine:      getEnv("OCR_ENGINE", "tesseract"),
			Binary:      getEnv("TESSERACT_BIN", "tesseract"),
			Lang:        getEnv("OCR_LANG", "eng"),
			PSM:         getEnvAsInt("OCR_PSM", 0),
			OEM:         getEnvAsInt("OCR_OEM", 0),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			PoolSize:    getEnvAsInt("OCR_POOL_SIZE", 2),
			CacheTTL:    getEnvAsDuration("OCR_CACHE_TTL", 5*time.Minute),
		},
		Preprocess: PreprocessConfig{
			BlockSize: getEnvAsInt("THRESHOLD_BLOCK_SIZE", 199),
			C:         getEnvAsFloat64("THRESHOLD_C", 5),
			Method:    getEnv("THRESHOLD_METHOD", "gaussian"),
		},
		Pipeline: PipelineConfig{
			RequestTimeout:       getEnvAsDuration("REQUEST_TIMEOUT", 2*time.Minute),
			AllowEmptyTranscript: getEnvAsBool("ALLOW_EMPTY_TRANSCRIPT", false),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
			Model:       getEnv("LLM_MODEL", "gemini-1.5-flash"),
			APIKey:      getEnv("LLM_API_KEY", os.Getenv("GEMINI_API_KEY")),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			MaxAttempts: getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
			RetryDelay:  getEnvAsDuration("LLM_RETRY_DELAY", 5*time.Second),
		},
		Watch: WatchConfig{
			Dir:      getEnv("WATCH_DIR", ""),
			DocType:  getEnv("WATCH_DOC_TYPE", "other"),
			Debounce: getEnvAsDuration("WATCH_DEBOUNCE", 500*time.Millisecond),
			Workers:  getEnvAsInt("QUEUE_WORKERS", 4),
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

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// Validate checks the settings every binary depends on.
func (c *Config) Validate() error {
	if c.Preprocess.BlockSize < 3 || c.Preprocess.BlockSize%2 == 0 {
		return NewAppError("CONFIG_ERROR", "THRESHOLD_BLOCK_SIZE must be odd and >= 3", ErrInvalidInput)
	}
	v := NewValidator().
		Field("THRESHOLD_METHOD", strings.ToLower(c.Preprocess.Method), OneOf("gaussian", "mean")).
		Field("OCR_ENGINE", strings.ToLower(c.OCR.Engine), OneOf("tesseract", "gosseract"))
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	if c.LLM.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "LLM_MAX_ATTEMPTS must be >= 1", ErrInvalidInput)
	}
	return nil
}

// ValidateLLM is required by binaries that call the extraction service.
func (c *Config) ValidateLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return NewAppError("CONFIG_ERROR", "LLM_API_KEY (or GEMINI_API_KEY) is required", ErrInvalidInput)
	}
	return nil
}

func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for postgres", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	return nil
}
