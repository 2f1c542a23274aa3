package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJobsOnInterval(t *testing.T) {
	var ran int32
	s := &Scheduler{
		Jobs: []Job{{
			Name:  "tick",
			Every: 5 * time.Millisecond,
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
		}},
		Log: zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&ran), int32(2))
}

func TestScheduler_JobErrorDoesNotStopTicking(t *testing.T) {
	var ran int32
	s := &Scheduler{
		Jobs: []Job{{
			Name:  "flaky",
			Every: 5 * time.Millisecond,
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				return errors.New("sweep failed")
			},
		}},
		Log: zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&ran), int32(2), "errors are logged, not fatal")
}
