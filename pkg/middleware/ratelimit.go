package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/ratelimit"
)

// RateLimit rejects requests with 429 once key(r) has spent its budget.
// Requests with an empty key pass through.
func RateLimit(limiter *ratelimit.Limiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(limiter.RetryAfter().Seconds())))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || limiter.Allow(k) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
		})
	}
}
