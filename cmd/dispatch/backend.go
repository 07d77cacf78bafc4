package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"designer-dispatch/internal/config"
	"designer-dispatch/internal/db"
	"designer-dispatch/internal/dispatch"
	"designer-dispatch/internal/notify"
	"designer-dispatch/internal/store"
	"designer-dispatch/internal/store/memory"
	"designer-dispatch/internal/store/postgres"
)

type storage interface {
	store.Repository
	store.Admin
}

type backend struct {
	storage
	migrate func(ctx context.Context) error
	close   func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return &backend{
			storage: memory.New(),
			migrate: func(context.Context) error { return nil },
			close:   func() {},
		}, nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		pg := postgres.New(pool)
		return &backend{storage: pg, migrate: pg.Migrate, close: pool.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func pricingFromConfig(p config.PricingConfig) dispatch.Pricing {
	return dispatch.Pricing{
		BasePriceMinor:    p.BasePriceMinor,
		ExpressMultiplier: decimal.NewFromFloat(p.ExpressMultiplier),
		UrgentMultiplier:  decimal.NewFromFloat(p.UrgentMultiplier),
	}
}

func newEngine(cfg *config.Config, repo store.Repository, notifier notify.Notifier, logger *slog.Logger) (*dispatch.Engine, error) {
	return dispatch.New(repo, dispatch.Options{
		ConfirmationTimeout: cfg.ConfirmationTimeout(),
		ConcurrencyCap:      cfg.DesignerConcurrencyCap,
		Pricing:             pricingFromConfig(cfg.Pricing),
		Notifier:            notifier,
		Logger:              logger,
	})
}
