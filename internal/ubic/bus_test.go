package ubic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBusDelivers(t *testing.T) {
	bus := NewLocalBus(16, 100, 50, zap.NewNop())
	defer bus.Close()

	var mu sync.Mutex
	var got []Message
	done := make(chan struct{})
	bus.Subscribe(func(m Message) {
		mu.Lock()
		got = append(got, m)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Message{IdempotencyKey: "a", Type: "x", Target: "I_CORE"}))
	require.NoError(t, bus.Publish(ctx, Message{IdempotencyKey: "b", Type: "y", Target: "I_CHAT"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 2)
}

func TestLocalBusClosedRejectsPublish(t *testing.T) {
	bus := NewLocalBus(16, 100, 50, zap.NewNop())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), Message{IdempotencyKey: "a", Type: "x"})
	assert.ErrorIs(t, err, ErrBusClosed)

	// Closing again is safe
	assert.NoError(t, bus.Close())
}

func TestLocalBusRateLimitRejects(t *testing.T) {
	// One token per hour with burst 1: the second publish must be rejected
	bus := NewLocalBus(16, 1.0/3600, 1, zap.NewNop())
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Message{IdempotencyKey: "a", Type: "x"}))

	err := bus.Publish(ctx, Message{IdempotencyKey: "b", Type: "x"})
	assert.ErrorIs(t, err, ErrBusSaturated)
}

func TestLocalBusEmergencyBypassesRateLimit(t *testing.T) {
	bus := NewLocalBus(16, 1.0/3600, 1, zap.NewNop())
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Message{IdempotencyKey: "a", Type: "x"}))

	// Saturated for normal traffic, but emergency still goes through
	err := bus.Publish(ctx, Message{IdempotencyKey: "b", Type: "x", Priority: PriorityEmergency})
	assert.NoError(t, err)
}

func TestLocalBusDrainsOnClose(t *testing.T) {
	bus := NewLocalBus(64, 1000, 100, zap.NewNop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(m Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(ctx, Message{IdempotencyKey: "k", Type: "x"}))
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}
