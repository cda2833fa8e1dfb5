package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"call-audit-go/internal/common"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Speech   SpeechConfig
	Storage  StorageConfig
	Language LanguageConfig
	Safety   SafetyConfig
	OpenAI   OpenAIConfig

	// UseMocks swaps every external provider for the deterministic fakes.
	UseMocks bool
}

type ServerConfig struct {
	Port             string
	UploadDir        string
	AllowedExts      []string
	MaxUploadBytes   int64
	UploadTimeout    time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownDeadline time.Duration
}

// DatabaseConfig selects the job store. Driver is one of memory, sqlite, postgres.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

type PipelineConfig struct {
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration
	PollInterval time.Duration
	PollRunning  time.Duration
	PollTimeout  time.Duration
}

type SpeechConfig struct {
	Endpoint string
	Key      string
	Locale   string
}

type StorageConfig struct {
	AccountURL string
	Container  string
	SASToken   string
}

type LanguageConfig struct {
	Endpoint string
	Key      string
}

type SafetyConfig struct {
	Endpoint string
	Key      string
}

type OpenAIConfig struct {
	Endpoint    string
	Key         string
	Deployment  string
	APIVersion  string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             getEnv("PORT", "8080"),
			UploadDir:        getEnv("UPLOAD_DIR", os.TempDir()),
			AllowedExts:      getEnvAsList("ALLOWED_EXTENSIONS", []string{"wav", "mp3"}),
			MaxUploadBytes:   getEnvAsInt64("MAX_UPLOAD_BYTES", 1<<30),
			UploadTimeout:    getEnvAsDuration("UPLOAD_TIMEOUT", 15*time.Minute),
			ReadTimeout:      getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:     getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:      getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownDeadline: getEnvAsDuration("SHUTDOWN_DEADLINE", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "memory"),
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:      getEnvAsInt("WORKERS", 4),
			QueueSize:    getEnvAsInt("QUEUE_SIZE", 64),
			JobTimeout:   getEnvAsDuration("JOB_TIMEOUT", 0),
			PollInterval: getEnvAsDuration("TRANSCRIPTION_POLL_INTERVAL", 5*time.Second),
			PollRunning:  getEnvAsDuration("TRANSCRIPTION_POLL_RUNNING", 10*time.Second),
			PollTimeout:  getEnvAsDuration("TRANSCRIPTION_TIMEOUT", 300*time.Second),
		},
		Speech: SpeechConfig{
			Endpoint: getEnv("AZURE_SPEECH_ENDPOINT", ""),
			Key:      getEnv("AZURE_SPEECH_KEY", ""),
			Locale:   getEnv("AZURE_SPEECH_LOCALE", "en-US"),
		},
		Storage: StorageConfig{
			AccountURL: getEnv("AZURE_STORAGE_ACCOUNT_URL", ""),
			Container:  getEnv("AZURE_STORAGE_CONTAINER", "call-audio"),
			SASToken:   getEnv("AZURE_STORAGE_SAS_TOKEN", ""),
		},
		Language: LanguageConfig{
			Endpoint: getEnv("AZURE_LANGUAGE_ENDPOINT", ""),
			Key:      getEnv("AZURE_LANGUAGE_KEY", ""),
		},
		Safety: SafetyConfig{
			Endpoint: getEnv("AZURE_CONTENT_SAFETY_ENDPOINT", ""),
			Key:      getEnv("AZURE_CONTENT_SAFETY_KEY", ""),
		},
		OpenAI: OpenAIConfig{
			Endpoint:    getEnv("AZURE_OPENAI_ENDPOINT", ""),
			Key:         getEnv("AZURE_OPENAI_KEY", ""),
			Deployment:  getEnv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o"),
			APIVersion:  getEnv("AZURE_OPENAI_API_VERSION", "2024-10-21"),
			Temperature: getEnvAsFloat32("AZURE_OPENAI_TEMPERATURE", 0.3),
			MaxTokens:   getEnvAsInt("AZURE_OPENAI_MAX_TOKENS", 2000),
			Timeout:     getEnvAsDuration("AZURE_OPENAI_TIMEOUT", 60*time.Second),
		},
		UseMocks: getEnvAsBool("USE_MOCK_PROVIDERS", false),
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return common.NewAppError("CONFIG_ERROR", "DB_URL is required for "+c.Database.Driver, common.ErrInvalidInput)
		}
	default:
		return common.NewAppError("CONFIG_ERROR", "DB_DRIVER must be memory, sqlite or postgres", common.ErrInvalidInput)
	}
	if c.Pipeline.Workers <= 0 {
		return common.NewAppError("CONFIG_ERROR", "WORKERS must be positive", common.ErrInvalidInput)
	}
	if len(c.Server.AllowedExts) == 0 {
		return common.NewAppError("CONFIG_ERROR", "ALLOWED_EXTENSIONS must not be empty", common.ErrInvalidInput)
	}
	if c.UseMocks {
		return nil
	}

	required := []struct{ key, val string }{
		{"AZURE_SPEECH_ENDPOINT", c.Speech.Endpoint},
		{"AZURE_SPEECH_KEY", c.Speech.Key},
		{"AZURE_STORAGE_ACCOUNT_URL", c.Storage.AccountURL},
		{"AZURE_STORAGE_SAS_TOKEN", c.Storage.SASToken},
		{"AZURE_LANGUAGE_ENDPOINT", c.Language.Endpoint},
		{"AZURE_LANGUAGE_KEY", c.Language.Key},
		{"AZURE_CONTENT_SAFETY_ENDPOINT", c.Safety.Endpoint},
		{"AZURE_CONTENT_SAFETY_KEY", c.Safety.Key},
		{"AZURE_OPENAI_ENDPOINT", c.OpenAI.Endpoint},
		{"AZURE_OPENAI_KEY", c.OpenAI.Key},
	}
	for _, r := range required {
		if r.val == "" {
			return common.NewAppError("CONFIG_ERROR", r.key+" is required", common.ErrInvalidInput)
		}
	}
	return nil
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "."))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
