package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/httputil"
	"github.com/platinummonkey/fleetauthz/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns limits for unauthenticated callers
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig returns per-user rate limit settings
func PerUserRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

func (c RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	Config() RateLimitConfig
}

// RateLimiter is an in-process token bucket limiter keyed by caller
type RateLimiter struct {
	config  RateLimitConfig
	limit   rate.Limit
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter. Tokens refill continuously at
// RequestsPerWindow per WindowDuration up to RequestsPerWindow+BurstSize.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	limit := rate.Limit(0)
	if config.RequestsPerWindow > 0 && config.WindowDuration > 0 {
		limit = rate.Every(config.WindowDuration / time.Duration(config.RequestsPerWindow))
	}
	return &RateLimiter{
		config:  config,
		limit:   limit,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Config returns the limiter configuration
func (rl *RateLimiter) Config() RateLimitConfig {
	return rl.config
}

// Allow takes a token for key if one is available
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.config.capacity())}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if !b.limiter.AllowN(now, 1) {
		return false, 0, nil
	}
	return true, max(int(b.limiter.TokensAt(now)), 0), nil
}

// Cleanup removes buckets idle for two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup every window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware limits requests per authenticated user, or per client
// IP for anonymous callers. It must run after AuthMiddleware.
type RateLimitMiddleware struct {
	userLimiter      Limiter
	anonymousLimiter Limiter
	emitter          *audit.Emitter
	metrics          *observability.Metrics
	logger           *observability.Logger
	failOpen         bool
}

// RateLimitOption configures a RateLimitMiddleware
type RateLimitOption func(*RateLimitMiddleware)

// WithRateLimitEmitter audits exceeded limits
func WithRateLimitEmitter(e *audit.Emitter) RateLimitOption {
	return func(m *RateLimitMiddleware) { m.emitter = e }
}

// WithRateLimitMetrics counts rejected requests
func WithRateLimitMetrics(metrics *observability.Metrics) RateLimitOption {
	return func(m *RateLimitMiddleware) { m.metrics = metrics }
}

// WithRateLimitLogger sets the logger for limiter errors
func WithRateLimitLogger(l *observability.Logger) RateLimitOption {
	return func(m *RateLimitMiddleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFailOpen controls whether limiter errors let requests through
// (true, the default) or reject them with 503
func WithFailOpen(failOpen bool) RateLimitOption {
	return func(m *RateLimitMiddleware) { m.failOpen = failOpen }
}

// NewRateLimitMiddleware creates a rate limit middleware
func NewRateLimitMiddleware(userLimiter, anonymousLimiter Limiter, opts ...RateLimitOption) *RateLimitMiddleware {
	m := &RateLimitMiddleware{
		userLimiter:      userLimiter,
		anonymousLimiter: anonymousLimiter,
		logger:           observability.NopLogger(),
		failOpen:         true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var key string
		limiter := m.anonymousLimiter
		if user := auth.UserFromContext(ctx); user != nil {
			key = fmt.Sprintf("user:%d", user.ID)
			limiter = m.userLimiter
		} else {
			key = "ip:" + clientIP(r)
		}

		allowed, remaining, err := limiter.Allow(ctx, key)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
			return
		}

		cfg := limiter.Config()
		reset := time.Now().Add(cfg.WindowDuration).Unix()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if !allowed {
			m.exceeded(w, r, key, cfg)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) exceeded(w http.ResponseWriter, r *http.Request, key string, cfg RateLimitConfig) {
	m.metrics.ObserveRateLimited()
	m.emitter.For(r.Context(), nil).LogSecurityEvent(
		audit.EventRateLimitExceeded,
		audit.RiskMedium,
		"rate limit exceeded",
		map[string]interface{}{
			"key":   key,
			"limit": cfg.RequestsPerWindow,
		},
	)

	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds()))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteTooManyRequests(w, "rate limit exceeded")
}

func clientIP(r *http.Request) string {
	if info, ok := audit.RequestInfoFromContext(r.Context()); ok && info.IPAddress != "" {
		return info.IPAddress
	}
	return audit.NewRequestInfo(r).IPAddress
}
