package ubic

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduperClaimAndForget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()

	first, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	assert.False(t, again)

	// The same key for a different target service is independent
	other, err := d.FirstDelivery(ctx, "I_MEMORY", "k1")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, d.Forget(ctx, "I_CORE", "k1"))
	reclaimed, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestRedisDeduperTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	first, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	require.True(t, first)

	mr.FastForward(2 * time.Minute)

	expired, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)
	ctx := context.Background()

	first, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Forget(ctx, "I_CORE", "k1"))
	reclaimed, err := d.FirstDelivery(ctx, "I_CORE", "k1")
	require.NoError(t, err)
	assert.True(t, reclaimed)
}
