package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero or negative disables limiting.
	Max    int
	Window time.Duration
	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP instead of the
	// socket address. Enable only behind a proxy that sets these headers.
	TrustProxy bool
	// KeyFunc overrides the client key.
	KeyFunc func(*http.Request) string
}

// window tracks counts of the current and previous fixed windows; the
// sliding count weights the previous window by its remaining overlap.
type window struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

type rateLimiter struct {
	max    int
	size   time.Duration
	key    func(*http.Request) string
	now    func() time.Time
	mu     sync.Mutex
	window map[string]*window
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	key := cfg.KeyFunc
	if key == nil {
		key = remoteIP
		if cfg.TrustProxy {
			key = forwardedIP
		}
	}
	return &rateLimiter{
		max:    cfg.Max,
		size:   cfg.Window,
		key:    key,
		now:    time.Now,
		window: make(map[string]*window),
	}
}

// take consumes one request for key and reports the remaining budget, the
// end of the current window and whether the request is allowed.
func (rl *rateLimiter) take(key string) (remaining int, reset time.Time, ok bool) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, found := rl.window[key]
	if !found {
		w = &window{currStart: now.Truncate(rl.size)}
		rl.window[key] = w
	}
	if elapsed := now.Sub(w.currStart); elapsed >= rl.size {
		w.prevCount = w.currCount
		if elapsed >= 2*rl.size {
			w.prevCount = 0
		}
		w.currCount = 0
		w.currStart = now.Truncate(rl.size)
	}

	overlap := 1 - now.Sub(w.currStart).Seconds()/rl.size.Seconds()
	count := w.prevCount*math.Max(overlap, 0) + w.currCount
	reset = w.currStart.Add(rl.size)
	if count >= float64(rl.max) {
		return 0, reset, false
	}

	w.currCount++
	return max(int(float64(rl.max)-count-1), 0), reset, true
}

// evict drops clients idle for two windows.
func (rl *rateLimiter) evict() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.window {
		if now.Sub(w.currStart) >= 2*rl.size {
			delete(rl.window, key)
		}
	}
}

func (rl *rateLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// RateLimit enforces a per-client sliding window limit. Responses carry
// X-RateLimit-* headers; rejected requests get 429 with Retry-After.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit with a background goroutine evicting
// idle clients until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	if cfg.Max > 0 && cfg.Window > 0 {
		go rl.evictLoop(ctx)
	}
	return rl.middleware
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl.max <= 0 || rl.size <= 0 {
		return next
	}
	limit := strconv.Itoa(rl.max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, reset, ok := rl.take(rl.key(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !ok {
			wait := max(reset.Sub(rl.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "RateLimited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remoteIP(r)
}
