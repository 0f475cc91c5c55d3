package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// ClientHeader lets callers identify themselves for quota purposes.
const ClientHeader = "X-Client-ID"

// Middleware rejects requests over quota with 429. Store errors let the request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientID(r)
		endpoint := r.Method + " " + r.URL.Path

		res, err := l.Check(r.Context(), client, endpoint)
		if err != nil {
			slog.Error("rate limit check failed, allowing request",
				"client", client,
				"endpoint", endpoint,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		if res.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		}

		if !res.Allowed {
			l.metrics.IncrementRateLimited(r.URL.Path)
			slog.Warn("rate limit exceeded",
				"client", client,
				"endpoint", endpoint,
				"window", res.Window,
			)
			w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientID returns the X-Client-ID header, or the remote IP.
func ClientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientHeader)); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
