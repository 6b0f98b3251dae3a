package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/domain"
)

func newTestCache() (*Memory, *clock.Fake) {
	clk := clock.NewFake(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewMemory(clk), clk
}

func TestMemory_ClaimReleaseCycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	claim, err := c.TryClaim(ctx, "fp-1", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Claimed, claim.Outcome)

	// Second claimant is told who holds the lease.
	claim, err = c.TryClaim(ctx, "fp-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, HeldByOther, claim.Outcome)
	assert.Equal(t, "worker-a", claim.Owner)

	// A different fingerprint is unaffected.
	claim, err = c.TryClaim(ctx, "fp-2", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Claimed, claim.Outcome)

	require.NoError(t, c.Release(ctx, "fp-1", "worker-a"))
	claim, err = c.TryClaim(ctx, "fp-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Claimed, claim.Outcome)
}

func TestMemory_ReleaseByNonOwner(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	_, err := c.TryClaim(ctx, "fp-1", "worker-a", time.Minute)
	require.NoError(t, err)

	err = c.Release(ctx, "fp-1", "worker-b")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotOwner, domain.KindOf(err))

	// Releasing an absent slot is benign.
	require.NoError(t, c.Release(ctx, "fp-gone", "worker-a"))
}

func TestMemory_LeaseExpiryRecoversOrphan(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache()

	_, err := c.TryClaim(ctx, "fp-1", "crashed-worker", 30*time.Second)
	require.NoError(t, err)

	clk.Advance(31 * time.Second)

	claim, err := c.TryClaim(ctx, "fp-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Claimed, claim.Outcome, "expired lease must be reclaimable")
}

func TestMemory_PublishReadyAndLookup(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache()

	_, err := c.TryClaim(ctx, "fp-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.PublishReady(ctx, "fp-1", "result-42", time.Hour))

	id, ok, err := c.LookupReady(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "result-42", id)

	// Publish released the in-flight slot too.
	claim, err := c.TryClaim(ctx, "fp-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReadyNow, claim.Outcome)
	assert.Equal(t, "result-42", claim.ResultID)

	// Lazy expiry: past the TTL the entry is a miss.
	clk.Advance(time.Hour + time.Second)
	_, ok, err = c.LookupReady(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Sweep(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache()

	require.NoError(t, c.PublishReady(ctx, "fp-1", "result-1", time.Minute))
	_, err := c.TryClaim(ctx, "fp-2", "worker-a", time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	c.sweep()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.ready)
	assert.Empty(t, c.inflight)
}

func TestMemory_ConcurrentClaimsSingleWinner(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := c.TryClaim(ctx, "fp-race", "w", time.Minute)
			require.NoError(t, err)
			if claim.Outcome == Claimed {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}
