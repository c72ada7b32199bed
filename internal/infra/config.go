package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secondary provider selections.
const (
	SecondaryGradio = "gradio"
	SecondaryKling  = "kling"
	SecondaryNone   = "none"
)

// KlingConfig holds the settings of one Kling endpoint.
type KlingConfig struct {
	AccessKey string
	SecretKey string
	BaseURL   string
	Model     string
	TokenTTL  time.Duration
}

// GradioConfig holds the settings of the Hugging Face space fallback.
type GradioConfig struct {
	SpaceURL string
	APIName  string
	Token    string
}

// PollConfig bounds the status polling loop.
type PollConfig struct {
	Interval      time.Duration
	MaxAttempts   int
	Timeout       time.Duration
	CheckAttempts int
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	Port              string
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	RateLimitPerMin   int
	CORSOrigins       []string
	BasicAuthUser     string
	BasicAuthPassword string

	Kling           KlingConfig
	Secondary       string
	KlingSecondary  KlingConfig
	Gradio          GradioConfig
	Poll            PollConfig
	ImageMaxBytes   int
	ImageReencodes  int
	ImageMaxPixels  int
	ResultMaxBytes  int64
	UploadMaxBytes  int64
	OutputDirectory string
	// RequestTimeout bounds every single provider call outside the status
	// stream: submits, pings and the result download.
	RequestTimeout time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	kling := KlingConfig{
		AccessKey: strings.TrimSpace(os.Getenv("KLING_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("KLING_SECRET_KEY")),
		BaseURL:   getEnv("KLING_BASE_URL", "https://api-singapore.klingai.com"),
		Model:     getEnv("KLING_MODEL", "kolors-virtual-try-on-v1-5"),
		TokenTTL:  time.Second * time.Duration(getEnvInt("KLING_TOKEN_TTL_SECONDS", 1800)),
	}
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8000"),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
		CORSOrigins:       splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		BasicAuthUser:     os.Getenv("BASIC_AUTH_USERNAME"),
		BasicAuthPassword: os.Getenv("BASIC_AUTH_PASSWORD"),
		Kling:             kling,
		Secondary:         strings.ToLower(getEnv("SECONDARY_PROVIDER", SecondaryGradio)),
		KlingSecondary: KlingConfig{
			AccessKey: getEnv("KLING_SECONDARY_ACCESS_KEY", kling.AccessKey),
			SecretKey: getEnv("KLING_SECONDARY_SECRET_KEY", kling.SecretKey),
			BaseURL:   getEnv("KLING_SECONDARY_BASE_URL", "https://api.klingai.com"),
			Model:     getEnv("KLING_SECONDARY_MODEL", kling.Model),
			TokenTTL:  kling.TokenTTL,
		},
		Gradio: GradioConfig{
			SpaceURL: getEnv("GRADIO_SPACE_URL", "https://kwai-kolors-kolors-virtual-try-on.hf.space"),
			APIName:  getEnv("GRADIO_API_NAME", "tryon"),
			Token:    strings.TrimSpace(os.Getenv("GRADIO_TOKEN")),
		},
		Poll: PollConfig{
			Interval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 15)),
			MaxAttempts:   getEnvInt("POLL_MAX_ATTEMPTS", 20),
			Timeout:       time.Second * time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 300)),
			CheckAttempts: getEnvInt("POLL_CHECK_RETRIES", 2),
		},
		ImageMaxBytes:   getEnvInt("IMAGE_MAX_BYTES", 10<<20),
		ImageReencodes:  getEnvInt("IMAGE_MAX_REENCODES", 5),
		ImageMaxPixels:  getEnvInt("IMAGE_MAX_PIXELS", 25_000_000),
		ResultMaxBytes:  int64(getEnvInt("RESULT_MAX_BYTES", 25<<20)),
		UploadMaxBytes:  int64(getEnvInt("UPLOAD_MAX_BYTES", 30<<20)),
		OutputDirectory: getEnv("OUTPUT_DIR", "results"),
		RequestTimeout:  time.Second * time.Duration(getEnvInt("PROVIDER_REQUEST_TIMEOUT_SECONDS", 60)),
	}

	if cfg.Kling.AccessKey == "" || cfg.Kling.SecretKey == "" {
		return nil, fmt.Errorf("KLING_ACCESS_KEY and KLING_SECRET_KEY are required")
	}
	switch cfg.Secondary {
	case SecondaryGradio, SecondaryKling, SecondaryNone:
	default:
		return nil, fmt.Errorf("SECONDARY_PROVIDER must be one of gradio, kling, none (got %q)", cfg.Secondary)
	}
	if cfg.Poll.Interval <= 0 || cfg.Poll.MaxAttempts <= 0 || cfg.Poll.Timeout <= 0 {
		return nil, fmt.Errorf("poll interval, attempts and timeout must be positive")
	}
	if cfg.Poll.CheckAttempts <= 0 {
		cfg.Poll.CheckAttempts = 1
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if cfg.Kling.TokenTTL <= cfg.Poll.Interval {
		return nil, fmt.Errorf("KLING_TOKEN_TTL_SECONDS must exceed POLL_INTERVAL_SECONDS")
	}

	return cfg, nil
}

// RequestBudget is the longest a /process call can take: both providers
// spend a submit and a full poll window, and the winner's result is fetched.
func (c *Config) RequestBudget() time.Duration {
	return 2*(c.RequestTimeout+c.Poll.Timeout) + c.RequestTimeout
}

// WriteTimeout returns HTTP_WRITE_TIMEOUT_SECONDS, raised to the request
// budget plus a margin when it is unset or too short for a full fallback.
func (c *Config) WriteTimeout() time.Duration {
	minimum := c.RequestBudget() + 30*time.Second
	if c.HTTPWriteTimeout < minimum {
		return minimum
	}
	return c.HTTPWriteTimeout
}

// RequireBasicAuth validates the credentials the HTTP API is protected with.
func (c *Config) RequireBasicAuth() error {
	if strings.TrimSpace(c.BasicAuthUser) == "" || c.BasicAuthPassword == "" {
		return fmt.Errorf("BASIC_AUTH_USERNAME and BASIC_AUTH_PASSWORD are required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
