package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter provides per-client fixed-window rate limiting backed by Redis
type RateLimiter struct {
	redis             redis.UniversalClient
	logger            *zap.Logger
	requestsPerMinute int
}

// NewRateLimiter creates a new rate limiter. client may be nil, in which
// case all requests pass.
func NewRateLimiter(client redis.UniversalClient, requestsPerMinute int, logger *zap.Logger) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	return &RateLimiter{
		redis:             client,
		logger:            logger,
		requestsPerMinute: requestsPerMinute,
	}
}

// Middleware returns the HTTP middleware function
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("ratelimit:client:%s", clientKey(r))
		allowed, remaining, resetAt := rl.checkRateLimit(r.Context(), key)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.requestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client", clientKey(r)),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", resetAt.Unix()-time.Now().Unix()))
			rl.sendRateLimitError(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return r.RemoteAddr
}

// checkRateLimit counts requests in the current one-minute window
func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (allowed bool, remaining int, resetAt time.Time) {
	now := time.Now()
	window := now.Truncate(time.Minute)
	windowKey := fmt.Sprintf("%s:%d", key, window.Unix())

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, time.Minute+time.Second)
	_, err := pipe.Exec(ctx)

	if err != nil {
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		// Fail open
		return true, rl.requestsPerMinute, window.Add(time.Minute)
	}

	count := incr.Val()
	remaining = rl.requestsPerMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAt = window.Add(time.Minute)
	allowed = count <= int64(rl.requestsPerMinute)
	return allowed, remaining, resetAt
}

func (rl *RateLimiter) sendRateLimitError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]interface{}{
		"error":   "Rate limit exceeded",
		"message": "Too many requests. Please retry after the rate limit window resets.",
	}
	json.NewEncoder(w).Encode(response)
}
