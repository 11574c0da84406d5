package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// RateLimitMiddleware limits the rate of requests per client.
type RateLimitMiddleware struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   *logger.Logger
}

// NewRateLimitMiddleware creates a rate limiting middleware allowing
// requestsPerSecond sustained with the given burst size.
func NewRateLimitMiddleware(requestsPerSecond float64, burst int, log *logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   log,
	}
}

// Handler returns the middleware handler.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.clientKey(r)

		limiter := m.getLimiter(key)
		if !limiter.Allow() {
			m.logger.WithFields(map[string]interface{}{
				"client": key,
				"path":   r.URL.Path,
			}).Warn("rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the client for rate limiting. Authenticated
// requests are limited per user, anonymous ones per remote address.
func (m *RateLimitMiddleware) clientKey(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return userID
	}
	return r.RemoteAddr
}

func (m *RateLimitMiddleware) getLimiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, exists := m.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(m.rate, m.burst)
		m.limiters[key] = limiter
	}

	return limiter
}

// Cleanup removes the limiter map when it grows too large. Idle
// limiters refill on their own, so dropping them is harmless.
func (m *RateLimitMiddleware) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.limiters) > 10000 {
		m.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup starts a background goroutine that periodically cleans
// up the limiter map.
func (m *RateLimitMiddleware) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			m.Cleanup()
		}
	}()
}
