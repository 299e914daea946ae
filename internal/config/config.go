package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported LLM backends.
const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"
	BackendMock   = "mock"
)

// ErrMissingCredentials marks a Validate failure caused only by absent LLM
// credentials. The server can still start; chat requests then fail with a
// configuration error.
var ErrMissingCredentials = errors.New("missing LLM credentials")

type Config struct {
	Port    string `mapstructure:"PORT"`
	Env     string `mapstructure:"ENV"`
	LogJSON bool   `mapstructure:"LOG_JSON"`

	LLMBackend      string  `mapstructure:"LLM_BACKEND"`
	GeminiAPIKey    string  `mapstructure:"GEMINI_API_KEY"`
	GCPProject      string  `mapstructure:"GCP_PROJECT"`
	GCPLocation     string  `mapstructure:"GCP_LOCATION"`
	ModelName       string  `mapstructure:"MODEL_NAME"`
	Temperature     float32 `mapstructure:"MODEL_TEMPERATURE"`
	MaxOutputTokens int32   `mapstructure:"MODEL_MAX_OUTPUT_TOKENS"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ChatMaxMessageLen int           `mapstructure:"CHAT_MAX_MESSAGE_LEN"`
	ChatHistoryWindow int           `mapstructure:"CHAT_HISTORY_WINDOW"`
	SuggestionMinLen  int           `mapstructure:"SUGGESTION_MIN_LEN"`
	SuggestionMaxLen  int           `mapstructure:"SUGGESTION_MAX_LEN"`
	StreamThrottle    time.Duration `mapstructure:"STREAM_THROTTLE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_JSON",
	"LLM_BACKEND", "GEMINI_API_KEY", "GCP_PROJECT", "GCP_LOCATION", "MODEL_NAME",
	"MODEL_TEMPERATURE", "MODEL_MAX_OUTPUT_TOKENS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"CHAT_MAX_MESSAGE_LEN", "CHAT_HISTORY_WINDOW", "SUGGESTION_MIN_LEN", "SUGGESTION_MAX_LEN",
	"STREAM_THROTTLE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("GCP_LOCATION", "us-central1")
	v.SetDefault("MODEL_NAME", "gemini-2.0-flash")
	v.SetDefault("MODEL_TEMPERATURE", 0.7)
	v.SetDefault("MODEL_MAX_OUTPUT_TOKENS", 2048)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CHAT_MAX_MESSAGE_LEN", 5000)
	v.SetDefault("CHAT_HISTORY_WINDOW", 10)
	v.SetDefault("SUGGESTION_MIN_LEN", 11)
	v.SetDefault("SUGGESTION_MAX_LEN", 149)
	v.SetDefault("STREAM_THROTTLE", "50ms")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	cfg.CORSOrigins = nil
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	cfg.LLMBackend = strings.ToLower(strings.TrimSpace(cfg.LLMBackend))
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = BackendGemini
		if cfg.IsDev() {
			cfg.LLMBackend = BackendMock
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is usable. The Gemini backend
// needs an API key; Vertex needs a project and location. The mock backend
// is refused in production. Missing credentials are reported last, wrapped
// in ErrMissingCredentials, so every other problem takes precedence.
func (c *Config) Validate() error {
	if err := c.validateLimits(); err != nil {
		return err
	}

	switch c.LLMBackend {
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required when LLM_BACKEND is %q", ErrMissingCredentials, BackendGemini)
		}
	case BackendVertex:
		if c.GCPProject == "" || c.GCPLocation == "" {
			return fmt.Errorf("%w: GCP_PROJECT and GCP_LOCATION are required when LLM_BACKEND is %q", ErrMissingCredentials, BackendVertex)
		}
	case BackendMock:
		if c.IsProduction() {
			return fmt.Errorf("LLM_BACKEND %q is not allowed in production", BackendMock)
		}
	default:
		return fmt.Errorf("LLM_BACKEND must be %q, %q, or %q, got %q", BackendGemini, BackendVertex, BackendMock, c.LLMBackend)
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.ChatMaxMessageLen <= 0 {
		return fmt.Errorf("CHAT_MAX_MESSAGE_LEN must be positive, got %d", c.ChatMaxMessageLen)
	}
	if c.ChatHistoryWindow < 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must not be negative, got %d", c.ChatHistoryWindow)
	}
	if c.SuggestionMinLen < 0 || c.SuggestionMinLen > c.SuggestionMaxLen {
		return fmt.Errorf("SUGGESTION_MIN_LEN (%d) must be between 0 and SUGGESTION_MAX_LEN (%d)", c.SuggestionMinLen, c.SuggestionMaxLen)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	return nil
}
