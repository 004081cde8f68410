package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/webtalk-server/internal/app"
	"github.com/vovakirdan/webtalk-server/internal/config"
	applog "github.com/vovakirdan/webtalk-server/internal/log"
	"github.com/vovakirdan/webtalk-server/internal/store/sqlite"
)

type rootFlags struct {
	configPath string
	overrides  config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "webtalk",
		Short:         "Real-time chat rooms with file sharing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config.yaml")
	pf.StringVar(&flags.overrides.Addr, "addr", "", "HTTP listen address")
	pf.StringVar(&flags.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.overrides.DatabasePath, "db", "", "SQLite database path")
	pf.StringVar(&flags.overrides.UploadDir, "upload-dir", "", "directory for uploaded files")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and WebSocket server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), flags)
			},
		},
		newDBCmd(flags),
	)
	return root
}

func newDBCmd(flags *rootFlags) *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// sqlite.New brings the schema up to date
			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema up to date")
			return nil
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every room, message and uploaded file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear database: %w", err)
			}
			if err := os.RemoveAll(cfg.UploadDir); err != nil {
				return fmt.Errorf("remove uploads: %w", err)
			}

			logger.Info().Str("db_path", cfg.DatabasePath).Str("path", cfg.UploadDir).Msg("database and uploads cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	db.AddCommand(migrate, clearCmd)
	return db
}

func loadConfig(flags *rootFlags) (*config.Config, *zerolog.Logger, error) {
	bootLogger := applog.New(flags.overrides.LogLevel, "console")

	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.UpdateFrom(flags.overrides)

	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("path", path).Msg("config loaded")
	return &cfg, logger, nil
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting webtalk server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
