package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/core"
)

func TestStartJanitorSweepsUntilCancelled(t *testing.T) {
	store := newMemoryRateStore()
	limiter, clock := newLimiter(store, votePolicy)
	ctx, cancel := context.WithCancel(context.Background())

	limiter.Check(context.Background(), "ip:1.2.3.4", "vote", nil)
	clock.Advance(time.Minute)

	done := limiter.StartJanitor(ctx, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := store.record(core.RateLimitKey{Identifier: "ip:1.2.3.4", Endpoint: "vote"})
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestStartJanitorDisabled(t *testing.T) {
	limiter, _ := newLimiter(newMemoryRateStore(), nil)

	select {
	case <-limiter.StartJanitor(context.Background(), 0):
	default:
		t.Fatal("disabled janitor should report done immediately")
	}
}
