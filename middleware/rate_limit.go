package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/services/ratelimit"
	"github.com/promptcraft/promptcraft-hybrid/utils"
	"go.uber.org/zap"
)

// RateLimitRecorder records throttled clients
type RateLimitRecorder interface {
	RecordRateLimitExceeded(userID, ipAddress, endpoint string, limit int) error
}

// RateLimit throttles requests per client address. The first rejection of a
// client within a minute is recorded as a rate_limit_exceeded event.
func RateLimit(limiter *ratelimit.Limiter, recorder RateLimitRecorder, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !limiter.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			res := limiter.Allow(ip)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.RetryAfter).Unix(), 10))

			if res.Report {
				logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.String("ip", ip),
					zap.String("path", r.URL.Path))
				if recorder != nil {
					if err := recorder.RecordRateLimitExceeded("", ip, r.URL.Path, res.Limit); err != nil {
						logger.Warn("failed to record rate limit event", zap.Error(err))
					}
				}
			}

			_ = utils.WriteTooManyRequests(w, "", map[string]interface{}{
				"retry_after_seconds": retryAfter,
			})
		})
	}
}
