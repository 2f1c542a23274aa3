package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mpontin/totem-orders/internal/config"
	"github.com/mpontin/totem-orders/internal/orders"
	"github.com/mpontin/totem-orders/internal/paycache"
)

const expiryBatchSize = 500

// Sweeper is the slice of the lifecycle engine the periodic jobs need.
type Sweeper interface {
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
	CleanupIntents(ctx context.Context) (int, error)
}

// Jobs assembles the periodic sweeps from the engine, the payment cache
// and the configured cadence.
func Jobs(svc Sweeper, cache paycache.Store, cfg config.Config, log zerolog.Logger) []Job {
	jobs := []Job{
		{
			Name:  "expire-pending-orders",
			Every: cfg.ExpirySweepEvery,
			Run: func(ctx context.Context) error {
				n, err := svc.ExpireStale(ctx, time.Now().UTC().Add(-cfg.PendingOrderMaxAge), expiryBatchSize)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info().Int("expired", n).Msg("expired stale pending orders")
				}
				return nil
			},
		},
		{
			Name:  "cleanup-payment-intents",
			Every: cfg.IntentSweepEvery,
			Run: func(ctx context.Context) error {
				n, err := svc.CleanupIntents(ctx)
				if errors.Is(err, orders.ErrDeviceNotConfigured) {
					// No terminal bound to this store: nothing to clean.
					return nil
				}
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info().Int("deleted", n).Msg("cleaned up settled payment intents")
				}
				return nil
			},
		},
		{
			Name:  "sweep-payment-cache",
			Every: cfg.CacheSweepEvery,
			Run: func(ctx context.Context) error {
				if n := cache.Sweep(ctx, time.Now().UTC()); n > 0 {
					log.Info().Int("removed", n).Msg("swept expired payment cache entries")
				}
				return nil
			},
		},
	}
	return jobs
}
