package paycache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := Record{Status: "approved", Amount: decimal.NewFromInt(50)}
	require.NoError(t, s.Put(ctx, "pay_123", rec))

	got, err := s.Get(ctx, "pay_123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "approved", got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(50)))
	assert.False(t, got.ObservedAt.IsZero(), "Put must stamp ObservedAt")
}

func TestMemoryStore_GetMiss(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "pay_1", Record{Status: "approved"}))
	require.NoError(t, s.Delete(ctx, "pay_1"))

	got, err := s.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_SweepDropsOnlyExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.Put(ctx, "old", Record{Status: "approved", ObservedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, s.Put(ctx, "fresh", Record{Status: "approved", ObservedAt: now.Add(-10 * time.Minute)}))

	removed := s.Sweep(ctx, now)
	assert.Equal(t, 1, removed)

	got, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
