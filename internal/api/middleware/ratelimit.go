package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowpbx/pushcall/internal/ratelimit"
)

// DefaultIngestLimit allows 10 pushes per second per client with a burst
// of 20.
func DefaultIngestLimit() ratelimit.Config {
	return ratelimit.Config{
		Rate:            rate.Limit(10),
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// RateLimit returns middleware answering 429 with Retry-After once a client
// address exceeds its bucket. chi's RealIP should run first when behind a
// proxy.
func RateLimit(l *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("subsystem", "ingest-limit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			if !l.Allow(client) {
				logger.Warn("push ingest rate limited", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
