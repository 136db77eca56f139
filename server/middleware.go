package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MeltedButter77/robotnic/telemetry"
)

// adminGate guards the /admin/ routes. A request passes with a matching
// X-Admin-Token header or matching Basic credentials. With nothing
// configured the gate is open.
type adminGate struct {
	token    string
	user     string
	password string
}

func adminGateFromEnv() adminGate {
	g := adminGate{
		token:    os.Getenv("ADMIN_TOKEN"),
		user:     os.Getenv("ADMIN_USERNAME"),
		password: os.Getenv("ADMIN_PASSWORD"),
	}
	if g.open() {
		slog.Warn("admin endpoints are unauthenticated, set ADMIN_TOKEN or ADMIN_USERNAME/ADMIN_PASSWORD", slog.String("component", "http"))
	}
	return g
}

func (g adminGate) basicEnabled() bool { return g.user != "" && g.password != "" }
func (g adminGate) open() bool         { return g.token == "" && !g.basicEnabled() }

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (g adminGate) permits(r *http.Request) bool {
	if g.open() {
		return true
	}
	if t := r.Header.Get("X-Admin-Token"); g.token != "" && t != "" && secretEqual(t, g.token) {
		return true
	}
	if !g.basicEnabled() {
		return false
	}
	user, pass, ok := r.BasicAuth()
	// Evaluate both comparisons so timing does not reveal which one failed.
	userOK := secretEqual(user, g.user)
	passOK := secretEqual(pass, g.password)
	return ok && userOK && passOK
}

func (g adminGate) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.permits(r) {
			next.ServeHTTP(w, r)
			return
		}
		telemetry.IncKind(telemetry.AdminRejections, "auth")
		telemetry.LoggerWithCorr(r.Context()).Warn("admin request rejected", slog.String("component", "http"), slog.String("ip", clientIP(r)), slog.String("path", r.URL.Path))
		w.Header().Set("WWW-Authenticate", `Basic realm="robotnic admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// limitConfig is the per-IP admin request budget. Backend is "memory" or
// "redis"; redis shares the budget across replicas.
type limitConfig struct {
	enabled bool
	backend string
	limit   int
	window  time.Duration
}

func positiveEnv(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func limitConfigFromEnv() limitConfig {
	cfg := limitConfig{
		enabled: os.Getenv("RATE_LIMIT_ENABLED") != "0",
		backend: strings.ToLower(os.Getenv("RATE_LIMIT_BACKEND")),
		limit:   10,
		window:  time.Minute,
	}
	if cfg.backend == "" {
		cfg.backend = "memory"
	}
	if n := positiveEnv("RATE_LIMIT_REQUESTS_PER_IP"); n > 0 {
		cfg.limit = n
	}
	if n := positiveEnv("RATE_LIMIT_WINDOW_SECONDS"); n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

// windowOf numbers the fixed window containing t.
func (c limitConfig) windowOf(t time.Time) int64 { return t.UnixNano() / int64(c.window) }

// RateLimiter decides whether a client may make another admin request.
type RateLimiter interface {
	Allow(ctx context.Context, ip string) bool
}

type windowCount struct {
	window int64
	n      int
}

// memoryLimiter counts requests per IP in fixed windows.
type memoryLimiter struct {
	cfg    limitConfig
	now    func() time.Time
	mu     sync.Mutex
	counts map[string]windowCount
}

// newMemoryLimiter starts a sweeper that drops stale counters until ctx ends.
func newMemoryLimiter(ctx context.Context, cfg limitConfig) *memoryLimiter {
	l := &memoryLimiter{cfg: cfg, now: time.Now, counts: make(map[string]windowCount)}
	go func() {
		t := time.NewTicker(cfg.window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.sweep(now)
			}
		}
	}()
	return l
}

func (l *memoryLimiter) sweep(now time.Time) {
	current := l.cfg.windowOf(now)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.counts {
		if c.window < current {
			delete(l.counts, ip)
		}
	}
}

func (l *memoryLimiter) Allow(_ context.Context, ip string) bool {
	if !l.cfg.enabled {
		return true
	}
	w := l.cfg.windowOf(l.now())
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.counts[ip]
	if c.window != w {
		c = windowCount{window: w}
	}
	c.n++
	l.counts[ip] = c
	return c.n <= l.cfg.limit
}

// redisLimiter keeps the same fixed-window counters in Redis so every
// replica draws from one budget.
type redisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	cfg    limitConfig
}

func newRedisLimiter(rdb redis.UniversalClient, prefix string, cfg limitConfig) *redisLimiter {
	return &redisLimiter{rdb: rdb, prefix: prefix, cfg: cfg}
}

// Allow fails open when Redis is unreachable.
func (l *redisLimiter) Allow(ctx context.Context, ip string) bool {
	if !l.cfg.enabled {
		return true
	}
	key := l.prefix + ":ratelimit:" + ip + ":" + strconv.FormatInt(l.cfg.windowOf(time.Now()), 10)
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, l.cfg.window)
		return nil
	})
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", slog.String("component", "http"), slog.Any("err", err))
		return true
	}
	return incr.Val() <= int64(l.cfg.limit)
}

// clientIP is the first X-Forwarded-For hop, or the remote address.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		addr, _, _ = strings.Cut(fwd, ",")
		addr = strings.TrimSpace(addr)
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// limitRequests answers 429 once a client exceeds its budget for the window.
func limitRequests(next http.Handler, limiter RateLimiter, window time.Duration) http.Handler {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if limiter.Allow(r.Context(), ip) {
			next.ServeHTTP(w, r)
			return
		}
		telemetry.IncKind(telemetry.AdminRejections, "rate_limit")
		telemetry.LoggerWithCorr(r.Context()).Warn("rate limit exceeded", slog.String("component", "http"), slog.String("ip", ip), slog.String("path", r.URL.Path))
		w.Header().Set("Retry-After", retryAfter)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	})
}
