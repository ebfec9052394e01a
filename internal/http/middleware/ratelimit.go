package middleware

import (
	"net/http"
	"strconv"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/ratelimiter"
)

// RateLimit limits requests per authenticated user within namespace. It must
// run after RequireAuth; requests without a user id are keyed by remote address.
func RateLimit(limiter *ratelimiter.RateLimiter, namespace string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := domain.UserIDFromContext(r.Context())
			if !ok {
				key = r.RemoteAddr
			}

			if !limiter.Allow(namespace, key) {
				err := &domain.ErrRateLimited{RetryAfterSeconds: limiter.RetryAfter(namespace, key)}
				w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfterSeconds))
				writeError(w, err.Error(), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
