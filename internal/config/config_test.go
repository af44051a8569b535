package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"fingenie/internal/integrations/paramstore"
)

func lookupFrom(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

type fakeGetter struct {
	values map[string]string
	err    error
	prefix string
	keys   []string

	params   map[string]string
	paramErr error
	names    []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	if f.paramErr != nil {
		return "", f.paramErr
	}
	v, ok := f.params[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", paramstore.ErrNotFound, name)
	}
	return v, nil
}

func (f *fakeGetter) GetUnderPrefix(_ context.Context, prefix string, keys ...string) (map[string]string, error) {
	f.prefix = prefix
	f.keys = keys
	return f.values, f.err
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(lookupFrom(nil))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:5000", cfg.APIBaseURL)
	require.Equal(t, "OpenAI", cfg.Provider.Provider)
	require.Equal(t, "gpt-4", cfg.Provider.Model)
	require.Zero(t, cfg.RequestTimeout)
	require.Equal(t, BackendMemory, cfg.SessionBackend)
	require.Equal(t, 12*time.Hour, cfg.SessionTTL)
	require.Equal(t, ":8090", cfg.ListenAddr)
	require.Equal(t, 1024, cfg.MaxSessions)
	require.EqualValues(t, 10<<20, cfg.MaxUploadBytes)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"FINGENIE_API_BASE_URL":    "https://query.example.com",
		"FINGENIE_MODEL":           "gpt-4o",
		"FINGENIE_REQUEST_TIMEOUT": "45s",
		"FINGENIE_SESSION_BACKEND": "DynamoDB",
		"FINGENIE_SESSION_TABLE":   "fingenie-sessions",
		"FINGENIE_SESSION_TTL":     "30m",
		"FINGENIE_REDIS_DB":        "2",
		"FINGENIE_MAX_SESSIONS":    "10",
		"FINGENIE_PARAM_PREFIX":    "/fingenie/prod/",
		"FINGENIE_LOG_LEVEL":       "debug",
	}))
	require.NoError(t, err)
	require.Equal(t, "https://query.example.com", cfg.APIBaseURL)
	require.Equal(t, "OpenAI", cfg.Provider.Provider)
	require.Equal(t, "gpt-4o", cfg.Provider.Model)
	require.Equal(t, 45*time.Second, cfg.RequestTimeout)
	require.Equal(t, BackendDynamoDB, cfg.SessionBackend)
	require.Equal(t, "fingenie-sessions", cfg.SessionTable)
	require.Equal(t, 30*time.Minute, cfg.SessionTTL)
	require.Equal(t, 2, cfg.RedisDB)
	require.Equal(t, 10, cfg.MaxSessions)
	require.Equal(t, "/fingenie/prod", cfg.ParamPrefix)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"relative url":    {"FINGENIE_API_BASE_URL": "localhost:5000"},
		"bad backend":     {"FINGENIE_SESSION_BACKEND": "sqlite"},
		"dynamo no table": {"FINGENIE_SESSION_BACKEND": "dynamodb"},
		"bad timeout":     {"FINGENIE_REQUEST_TIMEOUT": "soon"},
		"neg timeout":     {"FINGENIE_REQUEST_TIMEOUT": "-1s"},
		"bad int":         {"FINGENIE_MAX_SESSIONS": "many"},
		"zero sessions":   {"FINGENIE_MAX_SESSIONS": "0"},
		"bad level":       {"FINGENIE_LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(lookupFrom(env))
			require.Error(t, err)
		})
	}
}

// ---------------------------------------------------------------------------
// ApplyParams
// ---------------------------------------------------------------------------

func TestApplyParams_OverridesPresentValues(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{"FINGENIE_PARAM_PREFIX": "/fingenie/prod"}))
	require.NoError(t, err)

	g := &fakeGetter{values: map[string]string{"model": "gpt-4o", "api_base_url": "https://q.internal"}}
	require.NoError(t, cfg.ApplyParams(context.Background(), g))
	require.Equal(t, "/fingenie/prod", g.prefix)
	require.ElementsMatch(t, []string{"api_base_url", "provider", "model"}, g.keys)
	require.Equal(t, "https://q.internal", cfg.APIBaseURL)
	require.Equal(t, "OpenAI", cfg.Provider.Provider)
	require.Equal(t, "gpt-4o", cfg.Provider.Model)
}

func TestApplyParams_NoPrefixIsNoop(t *testing.T) {
	cfg, err := Load(lookupFrom(nil))
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyParams(context.Background(), nil))
}

func TestApplyParams_Errors(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{"FINGENIE_PARAM_PREFIX": "/fingenie"}))
	require.NoError(t, err)

	require.ErrorContains(t, cfg.ApplyParams(context.Background(), &fakeGetter{err: errors.New("access denied")}), "access denied")
	require.Error(t, cfg.ApplyParams(context.Background(), &fakeGetter{values: map[string]string{"api_base_url": "nope"}}))
}

func TestApplyParams_RedisPassword(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"FINGENIE_SESSION_BACKEND":      "redis",
		"FINGENIE_REDIS_PASSWORD":       "from-env",
		"FINGENIE_REDIS_PASSWORD_PARAM": "/fingenie/prod/redis_password",
	}))
	require.NoError(t, err)
	require.True(t, cfg.UsesParams())

	g := &fakeGetter{params: map[string]string{"/fingenie/prod/redis_password": "s3cret"}}
	require.NoError(t, cfg.ApplyParams(context.Background(), g))
	require.Equal(t, "s3cret", cfg.RedisPassword)
	require.Equal(t, []string{"/fingenie/prod/redis_password"}, g.names)
	require.Empty(t, g.prefix, "no prefix, no batch read")
}

func TestApplyParams_RedisPasswordErrors(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{"FINGENIE_REDIS_PASSWORD_PARAM": "/missing"}))
	require.NoError(t, err)

	err = cfg.ApplyParams(context.Background(), &fakeGetter{})
	require.ErrorContains(t, err, "does not exist")

	err = cfg.ApplyParams(context.Background(), &fakeGetter{paramErr: errors.New("throttled")})
	require.ErrorContains(t, err, "throttled")
	require.NotContains(t, err.Error(), "does not exist")
}

// ---------------------------------------------------------------------------
// .env and logger
// ---------------------------------------------------------------------------

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FINGENIE_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("FINGENIE_TEST_DOTENV") })

	LoadDotEnv(nil, path)
	require.Equal(t, "from-file", os.Getenv("FINGENIE_TEST_DOTENV"))
}

func TestLoadDotEnv_MissingFileWarns(t *testing.T) {
	logger, hook := test.NewNullLogger()
	LoadDotEnv(logger, filepath.Join(t.TempDir(), "missing.env"))
	require.Len(t, hook.Entries, 1)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())

	_, err = NewLogger("chatty")
	require.Error(t, err)
}
