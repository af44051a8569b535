package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fingenie/internal/app"
	"fingenie/internal/config"
	"fingenie/internal/session"
	"fingenie/internal/usecase"
)

func main() {
	var (
		baseURL  = flag.String("api", "", "query backend base URL (overrides FINGENIE_API_BASE_URL)")
		chartDir = flag.String("chart-dir", "", "directory to write returned chart images to")
		envFile  = flag.String("env", "", "optional .env file")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *envFile != "" {
		config.LoadDotEnv(logger, *envFile)
	} else {
		config.LoadDotEnv(nil)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if *baseURL != "" {
		cfg.APIBaseURL = *baseURL
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	// Interactive output goes to stdout; keep routine logs out of the way.
	if logger.GetLevel() == logrus.InfoLevel {
		logger.SetLevel(logrus.WarnLevel)
	}

	client, err := app.NewQueryClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create query client")
	}
	store, err := session.NewStore(session.NewMemoryBackend(), uuid.NewString(), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create session store")
	}
	notices := usecase.NewNoticeQueue(0)
	conv, err := usecase.NewConversation(client, store, notices, logger, cfg.Provider)
	if err != nil {
		logger.WithError(err).Fatal("failed to create conversation")
	}
	uploader, err := usecase.NewUploader(client, notices, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create uploader")
	}

	r := &repl{
		in:       os.Stdin,
		out:      os.Stdout,
		conv:     conv,
		uploader: uploader,
		store:    store,
		notices:  notices,
		chartDir: *chartDir,
	}
	fmt.Fprintf(os.Stdout, "FinGenie CLI (backend %s). Type :help for commands.\n", client.BaseURL())
	if err := r.run(ctx); err != nil {
		logger.WithError(err).Fatal("cli stopped")
	}
}
