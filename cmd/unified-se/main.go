package main

// @title           Unified SE API
// @version         1.0
// @description     Consent, provider token and resource sync API for Swedish accounting systems.

// @host      localhost:8080
// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description API key or session token. Format: "Bearer {token}"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/config"
	_ "github.com/jakobwennberg/unified-se-v2-sub001/internal/docs"
)

var version = "dev"

func main() {
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "unified-se",
		Short:         "Consent and sync service for Swedish accounting providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (env CONFIG_FILE)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	load := func() (*config.Config, *slog.Logger, error) {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, nil, err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		return cfg, newLogger(cfg.Log.Level), nil
	}

	runMode := func(mode string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("unified-se starting", "version", version, "mode", mode, "storage", cfg.Storage.Mode)
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			switch mode {
			case "api":
				return a.runAPI(ctx, false)
			case "worker":
				return a.runWorker(ctx)
			default:
				return a.runAPI(ctx, true)
			}
		}
	}

	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP API", RunE: runMode("api")},
		&cobra.Command{Use: "worker", Short: "Run the task worker and scheduler", RunE: runMode("worker")},
		&cobra.Command{Use: "all", Short: "Run the API with an embedded worker", RunE: runMode("all")},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the Postgres schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
