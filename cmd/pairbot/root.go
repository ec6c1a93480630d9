package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/pairbot/internal/app"
	"github.com/alanyoungcy/pairbot/internal/config"
)

// globalOpts holds flags shared by every command.
type globalOpts struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	root := &cobra.Command{
		Use:   "pairbot",
		Short: "Open hedged long/short pair trades across two exchanges",
		Long: `pairbot opens a long leg on one venue and a short leg on another for the
same instrument, then places take-profit and stop-loss orders on both.

Configuration is read from --config (TOML, or YAML for .yaml/.yml), then .env,
then PAIRBOT_* environment variables.

Examples:
  pairbot keygen
  pairbot serve --config pairbot.toml
  pairbot credentials add --user 42 --venue binance --api-key K --api-secret S
  pairbot trade --user 42 --base binance --quote bybit --instrument BTC/USDT --notional 500`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("PAIRBOT_CONFIG"),
		"path to configuration file (env PAIRBOT_CONFIG)")

	root.AddCommand(
		newServeCmd(opts),
		newKeygenCmd(),
		newCredentialsCmd(opts),
		newTradeCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// loadConfig reads and validates the configuration.
func (o *globalOpts) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// wire loads the configuration and builds the dependencies for a one-shot
// CLI command. Logs go to stderr so stdout stays parseable.
func (o *globalOpts) wire(cmd *cobra.Command) (*app.Dependencies, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	deps, cleanup, err := app.Wire(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return deps, cleanup, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
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
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newConfigCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			redacted := config.RedactedConfig(cfg)
			if err := toml.NewEncoder(cmd.OutOrStdout()).Encode(redacted); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n%v\n", err)
			}
			return nil
		},
	}
}

func newServeCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.LogLevel)
			slog.SetDefault(logger)
			logger.Info("pairbot starting",
				slog.String("config", opts.configPath),
				slog.String("store", cfg.Store.Backend),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("pairbot stopped")
			return nil
		},
	}
}
