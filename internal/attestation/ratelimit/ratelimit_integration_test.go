//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gns/internal/attestation/ratelimit"
	"gns/pkg/testutil/containers"
)

func TestRedisLimiterCooldown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	limiter := ratelimit.NewRedisLimiter(rc.Client, 500*time.Millisecond)

	allowed, err := limiter.Allow(ctx, "pk-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "pk-1")
	require.NoError(t, err)
	require.False(t, allowed, "second submission inside the cooldown must be refused")

	// Cooldowns are per identity.
	allowed, err = limiter.Allow(ctx, "pk-2")
	require.NoError(t, err)
	require.True(t, allowed)

	time.Sleep(600 * time.Millisecond)
	allowed, err = limiter.Allow(ctx, "pk-1")
	require.NoError(t, err)
	require.True(t, allowed, "cooldown should have lapsed")
}
