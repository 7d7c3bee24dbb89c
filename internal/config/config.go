package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration required by the service.
type Config struct {
	DBURL    string
	HTTPAddr string
	APIKeys  map[string]string // apiKey -> operator

	UpstreamBaseURL       string
	UpstreamAPIVersion    string
	UpstreamTimeout       time.Duration
	UpstreamTestEventCode string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	IdentityCacheTTL time.Duration

	LogLevel     string
	AppEnv       string
	MaxBodyBytes int64
}

// Production reports whether APP_ENV selects production logging.
func (c Config) Production() bool {
	return c.AppEnv == "production"
}

// Load reads a .env file when present, then the environment.
// API_KEYS format: "operator1:key1,operator2:key2"
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
	if dbURL == "" {
		return Config{}, errors.New("DB_URL required")
	}

	apiKeys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBURL:                 dbURL,
		HTTPAddr:              env("HTTP_ADDR", ":8080"),
		APIKeys:               apiKeys,
		UpstreamBaseURL:       strings.TrimRight(env("UPSTREAM_BASE_URL", "https://graph.facebook.com"), "/"),
		UpstreamAPIVersion:    env("UPSTREAM_API_VERSION", "v21.0"),
		UpstreamTestEventCode: env("UPSTREAM_TEST_EVENT_CODE", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		LogLevel:              env("LOG_LEVEL", "info"),
		AppEnv:                env("APP_ENV", "development"),
	}

	if cfg.UpstreamTimeout, err = durationEnv("UPSTREAM_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.IdentityCacheTTL, err = durationEnv("IDENTITY_CACHE_TTL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	maxBody, err := intEnv("MAX_BODY_BYTES", 64<<10)
	if err != nil {
		return Config{}, err
	}
	if maxBody <= 0 {
		return Config{}, errors.New("MAX_BODY_BYTES must be positive")
	}
	cfg.MaxBodyBytes = int64(maxBody)

	return cfg, nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	for _, p := range strings.Split(strings.TrimSpace(raw), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "operator:key,operator:key"`)
		}
		operator := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if operator == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "operator:key,operator:key"`)
		}
		apiKeys[key] = operator
	}

	// Local dev fallback so the operator endpoints work out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["operator-key-123"] = "operator"
	}
	return apiKeys, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
