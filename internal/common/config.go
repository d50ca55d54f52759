package common

import (
	"os"
	"strconv"
	"time"

	"github.com/mathvizai/mathviz/constants"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Render   RenderConfig
	Storage  StorageConfig
	LogLevel string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr string
}

// LLMConfig holds text-generation configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// PipelineConfig holds orchestration limits and retry policy
type PipelineConfig struct {
	MaxStages      int
	MaxScenes      int
	MaxConcepts    int
	MaxInputPages  int
	MaxScriptLines int
	StageTimeout   time.Duration
	RetryBudget    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	ConcurrencyCap int
}

// RenderConfig holds rendering engine configuration
type RenderConfig struct {
	Quality constants.RenderQuality
	FPS     int
	Timeout time.Duration
	Binary  string
}

// StorageConfig holds filesystem and job store paths
type StorageConfig struct {
	OutputDir string
	TempDir   string
	JobDBPath string // empty = in-memory job store
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8000"),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Temperature: getEnvAsFloat64("LLM_TEMPERATURE", 0.3),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 4000),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Pipeline: PipelineConfig{
			MaxStages:      getEnvAsInt("MAX_STAGES", 6),
			MaxScenes:      getEnvAsInt("MAX_SCENES", 5),
			MaxConcepts:    getEnvAsInt("MAX_CONCEPTS", 5),
			MaxInputPages:  getEnvAsInt("MAX_INPUT_PAGES", 10),
			MaxScriptLines: getEnvAsInt("MAX_SCRIPT_LINES", 400),
			StageTimeout:   getEnvAsDuration("STAGE_TIMEOUT", 2*time.Minute),
			RetryBudget:    getEnvAsInt("RETRY_BUDGET", 2),
			BackoffBase:    getEnvAsDuration("BACKOFF_BASE", 2*time.Second),
			BackoffCap:     getEnvAsDuration("BACKOFF_CAP", 32*time.Second),
			ConcurrencyCap: getEnvAsInt("CONCURRENCY_CAP", 4),
		},
		Render: RenderConfig{
			Quality: constants.RenderQuality(getEnv("RENDER_QUALITY", string(constants.QualityMedium))),
			FPS:     getEnvAsInt("RENDER_FPS", 30),
			Timeout: getEnvAsDuration("RENDER_TIMEOUT", 5*time.Minute),
			Binary:  getEnv("MANIM_BIN", "manim"),
		},
		Storage: StorageConfig{
			OutputDir: getEnv("OUTPUT_DIR", "./outputs"),
			TempDir:   getEnv("TEMP_DIR", "./tmp"),
			JobDBPath: getEnv("JOB_DB_PATH", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
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

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.MaxStages < 1 {
		return NewAppError("CONFIG_ERROR", "MAX_STAGES must be at least 1", ErrInvalidInput)
	}
	if c.Pipeline.ConcurrencyCap < 1 {
		return NewAppError("CONFIG_ERROR", "CONCURRENCY_CAP must be at least 1", ErrInvalidInput)
	}
	return nil
}
