package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"chat-history-agent/handler"
	"chat-history-agent/internal/app"
	"chat-history-agent/internal/config"
	"chat-history-agent/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.New(), os.Getenv("CHAT_CONFIG"))
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		fatal("failed to set up logging", err)
	}

	deps, err := app.Build(ctx, cfg)
	if err != nil {
		fatal("failed to build dependencies", err)
	}
	defer func() { _ = deps.Close() }()

	h, err := handler.NewHandler(
		func() (handler.Conversation, error) { return deps.NewSession() },
		handler.WithMaxQuestionLength(cfg.HTTP.MaxQuestionLength),
	)
	if err != nil {
		fatal("failed to create handler", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	h.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("server failed", err)
	}
}

func fatal(msg string, err error) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}
