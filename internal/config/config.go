package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Credential backends
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DefaultRequestTimeout bounds every outbound API call
const DefaultRequestTimeout = 30 * time.Second

// Config holds client configuration
type Config struct {
	APIBaseURL        string
	RequestTimeout    time.Duration
	CredentialBackend string
	CredentialFile    string
	RedisURL          string
	CredentialPrefix  string
	AppTitle          string
	LoginPath         string
	DebugMode         bool
	LogFormat         string
	MetricsEnabled    bool
	OTELEnabled       bool
	OTELEndpoint      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(lookup func(string) string) (*Config, error) {
	env := envReader(lookup)

	cfg := &Config{
		APIBaseURL:        strings.TrimRight(env.get("API_BASE_URL", "http://localhost:8080/api"), "/"),
		RequestTimeout:    time.Duration(env.getInt("REQUEST_TIMEOUT_SECONDS", int(DefaultRequestTimeout/time.Second))) * time.Second,
		CredentialBackend: strings.ToLower(env.get("CREDENTIAL_BACKEND", BackendFile)),
		CredentialFile:    env.get("CREDENTIAL_FILE", ""),
		RedisURL:          env.get("REDIS_URL", ""),
		CredentialPrefix:  env.get("CREDENTIAL_KEY_PREFIX", "hospital-portal:"),
		AppTitle:          env.get("APP_TITLE", "Hospital Finder"),
		LoginPath:         env.get("LOGIN_PATH", "/login"),
		DebugMode:         env.getBool("DEBUG_MODE", false),
		LogFormat:         env.get("LOG_FORMAT", "console"),
		MetricsEnabled:    env.getBool("METRICS_ENABLED", false),
		OTELEnabled:       env.getBool("OTEL_ENABLED", false),
		OTELEndpoint:      env.get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	switch c.CredentialBackend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CREDENTIAL_BACKEND=redis")
		}
	default:
		return fmt.Errorf("CREDENTIAL_BACKEND must be one of file, redis, memory; got %q", c.CredentialBackend)
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must start with /")
	}
	return nil
}

type envReader func(string) string

func (e envReader) get(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e envReader) getBool(key string, defaultValue bool) bool {
	if value := e(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func (e envReader) getInt(key string, defaultValue int) int {
	if value := e(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
