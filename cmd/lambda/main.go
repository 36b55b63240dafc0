package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"chat-history-agent/handler"
	"chat-history-agent/internal/app"
	"chat-history-agent/internal/config"
	"chat-history-agent/internal/logging"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (environment only) ----
	cfg, err := config.Load(config.New(), "")
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := logging.Setup(cfg.Log.Level, "json", os.Stderr); err != nil {
		fatal("failed to set up logging", err)
	}

	// ---- Clients ----
	deps, err := app.Build(ctx, cfg)
	if err != nil {
		fatal("failed to build dependencies", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(
		func() (handler.Conversation, error) { return deps.NewSession() },
		handler.WithMaxQuestionLength(cfg.HTTP.MaxQuestionLength),
	)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}
