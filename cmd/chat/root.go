package main

import (
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"chat-history-agent/internal/app"
	"chat-history-agent/internal/cli"
	"chat-history-agent/internal/config"
	"chat-history-agent/internal/logging"
)

func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Chat with Gemini and keep the conversation in a durable store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Terminal defaults; flags, the config file and the environment
			// still take precedence.
			v.SetDefault("store.bolt_path", defaultBoltPath())
			v.SetDefault("log.level", "warn")
			v.SetDefault("log.format", "console")
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			deps, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			sess, err := deps.NewSession()
			if err != nil {
				return err
			}

			term := cli.OpenTerminal(inputHistoryFile())
			defer func() { _ = term.Close() }()

			chat, err := cli.NewChat(sess, term, cmd.OutOrStdout(), cli.Options{
				Theme: cfg.Theme,
				Rich:  cli.StdoutIsTerminal(),
			})
			if err != nil {
				return err
			}
			return chat.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "config file (YAML or TOML)")
	// Flag names match config keys so BindPFlags maps them directly.
	f.String("store.backend", config.BackendDynamoDB, "store backend: dynamodb, bolt or postgres")
	f.String("store.collection", "chatHistory", "conversation collection name")
	f.String("store.table", "", "DynamoDB table")
	f.String("store.bolt_path", defaultBoltPath(), "bbolt database file")
	f.String("store.dsn", "", "postgres DSN")
	f.String("gemini.model", "gemini-2.0-flash", "Gemini model id")
	f.String("param_prefix", "", "SSM parameter prefix holding gemini-api-key")
	f.String("system_instruction", "", "instruction sent before the conversation")
	f.String("theme", cli.ThemeDark, "output theme: dark or light")
	f.String("log.level", "warn", "log level")
	f.String("log.format", "console", "log format: console or json")
	return cmd
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(dir, "chat-history-agent")
}

func defaultBoltPath() string {
	return filepath.Join(configDir(), "history.db")
}

func inputHistoryFile() string {
	return filepath.Join(configDir(), "input_history")
}
