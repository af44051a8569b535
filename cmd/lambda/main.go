package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fingenie/internal/app"
	"fingenie/internal/config"
)

func main() {
	ctx := context.Background()
	gin.SetMode(gin.ReleaseMode)

	boot := logrus.New()
	boot.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := app.ResolveConfig(ctx, boot)
	if err != nil {
		boot.WithError(err).Fatal("failed to load configuration")
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		boot.WithError(err).Fatal("failed to create logger")
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build app")
	}

	lambda.Start(a.Handler.Handle)
}
