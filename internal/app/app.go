package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/webtalk-server/internal/attachment"
	"github.com/vovakirdan/webtalk-server/internal/auth"
	"github.com/vovakirdan/webtalk-server/internal/config"
	"github.com/vovakirdan/webtalk-server/internal/core"
	"github.com/vovakirdan/webtalk-server/internal/store"
	"github.com/vovakirdan/webtalk-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/webtalk-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	sweepInterval   time.Duration
	hub             *core.Hub
	registry        *core.Registry
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	for _, dir := range []string{cfg.UploadDir, cfg.StagingDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	registry := core.NewRegistry(st, core.RegistryConfig{
		UploadDir:        cfg.UploadDir,
		MaxRooms:         cfg.MaxRooms,
		RoomTimeoutHours: cfg.RoomTimeoutHours,
	}, logger)
	if err := registry.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	pipeline := attachment.NewPipeline(registry, attachment.Config{
		UploadDir:      cfg.UploadDir,
		TempDir:        cfg.StagingDir(),
		MaxBytes:       cfg.MaxUploadBytes,
		MaxMobileBytes: cfg.MaxMobileUploadBytes,
	}, logger)

	authService := auth.NewService(cfg.AdminPassword, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
	if cfg.AdminPassword == "" {
		logger.Warn().Msg("admin_password not set, admin API disabled")
	}

	hub := core.NewHub(registry, logger)
	server := transporthttp.NewServer(hub, registry, pipeline, authService, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		sweepInterval:   cfg.SweepInterval,
		hub:             hub,
		registry:        registry,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server, the hub and the expiry sweeper, and blocks
// until context cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		a.sweep(ctx)
		return nil
	})

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// sweep deactivates idle rooms on every tick.
func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.registry.Sweep(ctx)
			if err != nil {
				a.log.Error().Err(err).Msg("room sweep failed")
			}
			if n > 0 {
				a.log.Info().Int("deactivated", n).Msg("room sweep")
			}
		}
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
