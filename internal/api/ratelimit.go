package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// tokenBucket is a token bucket refilled at rate tokens per second up
// to burst.
type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address. Idle buckets
// are dropped during Allow once per idle period, so no goroutine is
// needed.
type clientLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     int
	idle      time.Duration
	buckets   map[string]*tokenBucket
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiter(rate float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		rate:    rate,
		burst:   burst,
		idle:    5 * time.Minute,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket. When the bucket is empty it
// returns false and how long until the next token is available.
func (l *clientLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idle {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(l.burst), lastSeen: now}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// clientKey identifies the caller by remote IP. Forwarded headers are
// ignored; deployments behind a proxy should limit at the proxy.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withRateLimit rejects requests over the per-client budget with 429.
// Health and metrics endpoints are not limited.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/livez", s.metricsPath:
			next.ServeHTTP(w, r)
			return
		}
		ok, wait := s.limiter.Allow(clientKey(r))
		if !ok {
			secs := int(wait.Seconds())
			if wait > time.Duration(secs)*time.Second {
				secs++
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			s.log.Warn("rate limited", "client", clientKey(r), "path", r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
