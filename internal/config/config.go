// Package config reads runtime settings from the environment, an optional
// .env file and, when a parameter prefix is set, AWS SSM.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"fingenie/internal/domain"
	"fingenie/internal/integrations/paramstore"
	"fingenie/internal/integrations/queryservice"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendDynamoDB Backend = "dynamodb"
)

const (
	defaultSessionTTL     = 12 * time.Hour
	defaultListenAddr     = ":8090"
	defaultMaxSessions    = 1024
	defaultMaxUploadBytes = 10 << 20
)

// SSM parameter names read under ParamPrefix.
const (
	paramAPIBaseURL = "api_base_url"
	paramProvider   = "provider"
	paramModel      = "model"
)

type Config struct {
	APIBaseURL     string
	Provider       domain.ProviderOptions
	RequestTimeout time.Duration

	SessionBackend Backend
	SessionTTL     time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SessionTable   string

	// RedisPasswordParam names an SSM SecureString holding the Redis
	// password. It wins over RedisPassword.
	RedisPasswordParam string

	ListenAddr     string
	MaxSessions    int
	MaxUploadBytes int64
	ParamPrefix    string
	LogLevel       string
}

// Load builds a Config from lookup, usually os.LookupEnv.
func Load(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		APIBaseURL: env("FINGENIE_API_BASE_URL", queryservice.DefaultBaseURL),
		Provider: domain.ProviderOptions{
			Provider: env("FINGENIE_PROVIDER", domain.DefaultProvider),
			Model:    env("FINGENIE_MODEL", domain.DefaultModel),
		},
		SessionBackend: Backend(strings.ToLower(env("FINGENIE_SESSION_BACKEND", string(BackendMemory)))),
		RedisAddr:      env("FINGENIE_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  env("FINGENIE_REDIS_PASSWORD", ""),
		SessionTable:   env("FINGENIE_SESSION_TABLE", ""),
		ListenAddr:     env("FINGENIE_LISTEN_ADDR", defaultListenAddr),
		ParamPrefix:    strings.TrimRight(env("FINGENIE_PARAM_PREFIX", ""), "/"),
		LogLevel:       env("FINGENIE_LOG_LEVEL", "info"),
	}

	cfg.RedisPasswordParam = env("FINGENIE_REDIS_PASSWORD_PARAM", "")

	var err error
	if cfg.RequestTimeout, err = envDuration(env, "FINGENIE_REQUEST_TIMEOUT", 0); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = envDuration(env, "FINGENIE_SESSION_TTL", defaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = envInt(env, "FINGENIE_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.MaxSessions, err = envInt(env, "FINGENIE_MAX_SESSIONS", defaultMaxSessions); err != nil {
		return Config{}, err
	}
	maxUpload, err := envInt(env, "FINGENIE_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: FINGENIE_API_BASE_URL %q must be an absolute http(s) url", c.APIBaseURL)
	}
	switch c.SessionBackend {
	case BackendMemory, BackendRedis:
	case BackendDynamoDB:
		if c.SessionTable == "" {
			return errors.New("config: FINGENIE_SESSION_TABLE is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.SessionBackend)
	}
	if c.RequestTimeout < 0 {
		return errors.New("config: FINGENIE_REQUEST_TIMEOUT must not be negative")
	}
	if c.SessionTTL < 0 {
		return errors.New("config: FINGENIE_SESSION_TTL must not be negative")
	}
	if c.MaxSessions <= 0 {
		return errors.New("config: FINGENIE_MAX_SESSIONS must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("config: FINGENIE_MAX_UPLOAD_BYTES must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: FINGENIE_LOG_LEVEL: %w", err)
	}
	return nil
}

// UsesParams reports whether ApplyParams needs the parameter store.
func (c Config) UsesParams() bool {
	return c.ParamPrefix != "" || c.RedisPasswordParam != ""
}

// ApplyParams overrides the backend settings with SSM parameters under
// ParamPrefix, where missing parameters are skipped, and resolves
// RedisPasswordParam, which must exist.
func (c *Config) ApplyParams(ctx context.Context, getter paramstore.Getter) error {
	if !c.UsesParams() {
		return nil
	}
	if getter == nil {
		return errors.New("config: parameter getter must not be nil")
	}
	if c.ParamPrefix != "" {
		values, err := getter.GetUnderPrefix(ctx, c.ParamPrefix, paramAPIBaseURL, paramProvider, paramModel)
		if err != nil {
			return fmt.Errorf("config: load parameters: %w", err)
		}
		if v := strings.TrimSpace(values[paramAPIBaseURL]); v != "" {
			c.APIBaseURL = v
		}
		if v := strings.TrimSpace(values[paramProvider]); v != "" {
			c.Provider.Provider = v
		}
		if v := strings.TrimSpace(values[paramModel]); v != "" {
			c.Provider.Model = v
		}
	}
	if c.RedisPasswordParam != "" {
		password, err := getter.GetParameter(ctx, c.RedisPasswordParam)
		if paramstore.IsNotFound(err) {
			return fmt.Errorf("config: FINGENIE_REDIS_PASSWORD_PARAM %q does not exist", c.RedisPasswordParam)
		}
		if err != nil {
			return fmt.Errorf("config: load redis password: %w", err)
		}
		c.RedisPassword = password
	}
	return c.Validate()
}

// LoadDotEnv loads the given .env files, or ./.env when none are given. A
// missing file is only logged.
func LoadDotEnv(logger logrus.FieldLogger, paths ...string) {
	if err := godotenv.Load(paths...); err != nil && logger != nil {
		logger.WithError(err).Warn("no .env file loaded, using process environment")
	}
}

// NewLogger builds the process logger.
func NewLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("config: parse log level: %w", err)
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(lvl)
	return logger, nil
}

func envDuration(env func(string, string) string, key string, def time.Duration) (time.Duration, error) {
	raw := env(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func envInt(env func(string, string) string, key string, def int) (int, error) {
	raw := env(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
