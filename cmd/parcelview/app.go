package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/parcelview/parcelview-client/internal/config"
	"github.com/parcelview/parcelview-client/internal/identity"
	"github.com/parcelview/parcelview-client/internal/logger"
	"github.com/parcelview/parcelview-client/internal/session"
	"github.com/parcelview/parcelview-client/internal/store"
)

const startTimeout = 10 * time.Second

// withSession wires the client stack, restores the persisted session and
// hands the manager to the command body.
func withSession(fn func(ctx context.Context, m *session.Manager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var mgr *session.Manager
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			func(c *config.Config) *config.APIConfig { return &c.API },
			func(c *config.Config) *config.StorageConfig { return &c.Storage },
		),
		store.Module,
		identity.Module,
		session.Module,
		fx.Invoke(func(lc fx.Lifecycle, s *store.Store) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return s.Close() },
			})
		}),
		fx.Invoke(func(lc fx.Lifecycle, m *session.Manager) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					m.Restore(ctx)
					return nil
				},
			})
		}),
		fx.Populate(&mgr),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(context.Background(), mgr)
}
