// Package app assembles the HTTP handler from a Config.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sirupsen/logrus"

	"fingenie/handler"
	"fingenie/internal/config"
	"fingenie/internal/integrations/paramstore"
	"fingenie/internal/integrations/queryservice"
	"fingenie/internal/repository"
	"fingenie/internal/session"
)

// App holds the assembled handler and whatever must be released on exit.
type App struct {
	Handler *handler.Handler
	closers []func() error
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ResolveConfig loads the environment configuration and applies SSM
// overrides when a parameter prefix or a password parameter is set.
func ResolveConfig(ctx context.Context, logger logrus.FieldLogger) (config.Config, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return config.Config{}, err
	}
	if !cfg.UsesParams() {
		return cfg, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return config.Config{}, fmt.Errorf("app: load aws config: %w", err)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyParams(ctx, params); err != nil {
		return config.Config{}, err
	}
	logger.WithFields(logrus.Fields{
		"prefix":         cfg.ParamPrefix,
		"redis_password": cfg.RedisPasswordParam != "",
	}).Info("applied parameter store overrides")
	return cfg, nil
}

// NewQueryClient builds the backend client from cfg.
func NewQueryClient(cfg config.Config, logger logrus.FieldLogger) (*queryservice.Client, error) {
	return queryservice.NewClient(
		queryservice.WithBaseURL(cfg.APIBaseURL),
		queryservice.WithDefaultProvider(cfg.Provider),
		queryservice.WithTimeout(cfg.RequestTimeout),
		queryservice.WithLogger(logger),
	)
}

// Build wires the query client, session backend and registry into a
// Handler.
func Build(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*App, error) {
	client, err := NewQueryClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{}
	backend, err := a.newBackend(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	registry, err := handler.NewRegistry(handler.RegistryConfig{
		Client:       client,
		Backend:      backend,
		Provider:     cfg.Provider,
		Logger:       logger,
		MaxSessions:  cfg.MaxSessions,
		IdleTTL:      cfg.SessionTTL,
		ClearOnEvict: cfg.SessionBackend == config.BackendMemory,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	h, err := handler.NewHandler(registry, logger, cfg.MaxUploadBytes)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Handler = h
	logger.WithFields(logrus.Fields{
		"backend":  cfg.SessionBackend,
		"api_base": client.BaseURL(),
		"provider": cfg.Provider.Provider,
		"model":    cfg.Provider.Model,
	}).Info("app assembled")
	return a, nil
}

func (a *App) newBackend(ctx context.Context, cfg config.Config) (session.Backend, error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		rdb, err := repository.NewRedisClient(ctx, repository.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return repository.NewRedisStore(rdb, cfg.SessionTTL)
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load aws config: %w", err)
		}
		return newDynamoBackend(awsCfg, cfg)
	default:
		return session.NewMemoryBackend(), nil
	}
}

func newDynamoBackend(awsCfg aws.Config, cfg config.Config) (session.Backend, error) {
	return repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.SessionTable, cfg.SessionTTL)
}
