package ubic

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrBusClosed is returned when publishing after Close
	ErrBusClosed = errors.New("bus is closed")

	// ErrBusSaturated is returned when admission control rejects a message
	ErrBusSaturated = errors.New("bus rejected message: queue or rate limit saturated")
)

// Bus delivers control-plane messages to interested subscribers.
// Publish confirms local acceptance only; delivery is fire-and-forget.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// LocalBus is a channel-backed in-process bus with rate-limited admission
type LocalBus struct {
	ch          chan Message
	limiter     *rate.Limiter
	subscribers []func(Message)
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewLocalBus creates a bus with the given queue depth and admission rate
func NewLocalBus(buffer int, ratePerSec float64, burst int, logger *zap.Logger) *LocalBus {
	if buffer <= 0 {
		buffer = 256
	}
	if ratePerSec <= 0 {
		ratePerSec = 100
	}
	if burst <= 0 {
		burst = 50
	}
	b := &LocalBus{
		ch:      make(chan Message, buffer),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  logger,
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a delivery callback. Callbacks run on the dispatch
// goroutine and must not block.
func (b *LocalBus) Subscribe(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish enqueues a message. A nil return confirms the bus accepted it.
func (b *LocalBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	// Emergency traffic bypasses admission control
	if msg.Priority != PriorityEmergency && !b.limiter.Allow() {
		return ErrBusSaturated
	}

	select {
	case b.ch <- msg:
		return nil
	default:
		return ErrBusSaturated
	}
}

// Close stops delivery after draining queued messages
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
	return nil
}

func (b *LocalBus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.ch:
			b.deliver(msg)
		case <-b.done:
			// Drain what was accepted before Close
			for {
				select {
				case msg := <-b.ch:
					b.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *LocalBus) deliver(msg Message) {
	b.mu.RLock()
	subs := make([]func(Message), len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(msg)
	}
	if len(subs) == 0 {
		b.logger.Debug("Bus message with no subscribers",
			zap.String("target", msg.Target),
			zap.String("message_type", msg.Type),
		)
	}
}
