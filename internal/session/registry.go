package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/metrics"
)

// Registry is the process-local cache of live sessions. It is never
// authoritative: it starts empty on boot and the durable store remains the
// source of truth. Mutations for a single session serialize on a per-key
// lock; different sessions proceed independently.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	maxSessions int

	mirror    redis.UniversalClient // optional, best-effort snapshot mirror
	mirrorTTL time.Duration
	logger    *zap.Logger
}

type entry struct {
	mu         sync.Mutex
	sess       *Session
	lastAccess time.Time
}

// NewRegistry creates a registry with a bounded local cache.
// mirror may be nil; when set, session snapshots are mirrored into Redis so a
// restarted instance can warm up without hitting the store.
func NewRegistry(maxSessions int, mirror redis.UniversalClient, logger *zap.Logger) *Registry {
	if maxSessions <= 0 {
		maxSessions = 10000
	}
	return &Registry{
		entries:     make(map[string]*entry),
		maxSessions: maxSessions,
		mirror:      mirror,
		mirrorTTL:   24 * time.Hour,
		logger:      logger,
	}
}

// Put inserts or replaces a session in the registry
func (r *Registry) Put(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[sess.ID]
	if !ok {
		e = &entry{}
		r.entries[sess.ID] = e
	}
	e.lastAccess = time.Now()
	r.evictLocked()
	metrics.RegistryCacheSize.Set(float64(len(r.entries)))
	r.mu.Unlock()

	e.mu.Lock()
	e.sess = sess.Clone()
	e.mu.Unlock()

	r.mirrorPut(ctx, sess)
}

// Get returns a snapshot of a cached session, if present
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		metrics.RegistryCacheMisses.Inc()
		return nil, false
	}
	metrics.RegistryCacheHits.Inc()

	r.mu.Lock()
	e.lastAccess = time.Now()
	r.mu.Unlock()

	e.mu.Lock()
	snap := e.sess.Clone()
	e.mu.Unlock()
	return snap, true
}

// Update applies fn to the live session under its per-key lock and mirrors
// the result. fn must not block on I/O; store and executor calls belong
// outside this critical section.
func (r *Registry) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if err := fn(e.sess); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snap := e.sess.Clone()
	e.mu.Unlock()

	r.mirrorPut(ctx, snap)
	return snap, nil
}

// Remove drops a session from the live registry and its mirror entry.
// The durable record is untouched.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	delete(r.entries, id)
	metrics.RegistryCacheSize.Set(float64(len(r.entries)))
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.Del(ctx, r.mirrorKey(id)).Err(); err != nil {
			r.logger.Warn("Failed to drop session mirror entry",
				zap.String("session_id", id),
				zap.Error(err),
			)
		}
	}
}

// List returns snapshots of every live session, most recently created first
func (r *Registry) List() []*Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.sess != nil {
			out = append(out, e.sess.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// FromMirror attempts to recover a session snapshot from the Redis mirror,
// for warm starts before falling back to the durable store.
func (r *Registry) FromMirror(ctx context.Context, id string) (*Session, bool) {
	if r.mirror == nil {
		return nil, false
	}
	data, err := r.mirror.Get(ctx, r.mirrorKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		r.logger.Warn("Corrupt session mirror entry",
			zap.String("session_id", id),
			zap.Error(err),
		)
		return nil, false
	}
	return &sess, true
}

func (r *Registry) mirrorKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (r *Registry) mirrorPut(ctx context.Context, sess *Session) {
	if r.mirror == nil || sess == nil {
		return
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := r.mirror.Set(ctx, r.mirrorKey(sess.ID), data, r.mirrorTTL).Err(); err != nil {
		// Mirror is best-effort; the durable store stays authoritative
		r.logger.Warn("Failed to mirror session snapshot",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}
}

// evictLocked trims the oldest-accessed entries once the cap is exceeded.
// Caller holds r.mu.
func (r *Registry) evictLocked() {
	if len(r.entries) <= r.maxSessions {
		return
	}

	type access struct {
		id   string
		time time.Time
	}
	candidates := make([]access, 0, len(r.entries))
	for id, e := range r.entries {
		candidates = append(candidates, access{id: id, time: e.lastAccess})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].time.Before(candidates[j].time)
	})

	toRemove := len(r.entries) - r.maxSessions
	for i := 0; i < toRemove && i < len(candidates); i++ {
		delete(r.entries, candidates[i].id)
		metrics.RegistryCacheEvictions.Inc()
	}
}
