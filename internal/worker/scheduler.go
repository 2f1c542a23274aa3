// Package worker runs the background side of the system: fixed-interval
// sweeps and the payment-approved event consumer. It is a separate
// process from the API so a slow sweep never sits in a request path.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler ticks each job on its own interval. A job error is logged
// and the ticker keeps going; only context cancellation stops the run.
type Scheduler struct {
	Jobs []Job
	Log  zerolog.Logger
}

func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.Jobs {
		j := j
		log := s.Log.With().Str("job", j.Name).Logger()
		g.Go(func() error {
			t := time.NewTicker(j.Every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					started := time.Now()
					if err := j.Run(ctx); err != nil {
						log.Error().Err(err).Msg("job failed")
						continue
					}
					log.Debug().Dur("took", time.Since(started)).Msg("job done")
				}
			}
		})
	}
	return g.Wait()
}
