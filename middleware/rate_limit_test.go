package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/promptcraft/promptcraft-hybrid/services/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockRateLimitRecorder struct {
	mock.Mock
}

func (m *MockRateLimitRecorder) RecordRateLimitExceeded(userID, ipAddress, endpoint string, limit int) error {
	args := m.Called(userID, ipAddress, endpoint, limit)
	return args.Error(0)
}

func TestRateLimit(t *testing.T) {
	t.Run("rejects past the burst and records once", func(t *testing.T) {
		recorder := new(MockRateLimitRecorder)
		recorder.On("RecordRateLimitExceeded", "", "192.0.2.44", "/api/v1/security/events", 60).Return(nil).Once()

		var called bool
		handler := RateLimit(ratelimit.NewLimiter(60, 2), recorder, zap.NewNop())(okHandler(&called))

		codes := make([]int, 0, 4)
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/security/events", nil)
			req.RemoteAddr = "192.0.2.44:5000"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			codes = append(codes, w.Code)

			if w.Code == http.StatusTooManyRequests {
				assert.NotEmpty(t, w.Header().Get("Retry-After"))
				assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
				assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
			}
		}

		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
		assert.True(t, called)
		recorder.AssertExpectations(t)
	})

	t.Run("other clients are unaffected", func(t *testing.T) {
		handler := RateLimit(ratelimit.NewLimiter(60, 1), nil, zap.NewNop())(okHandler(new(bool)))

		for _, addr := range []string{"192.0.2.1:1", "192.0.2.2:1"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = addr
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code, addr)
		}
	})

	t.Run("disabled limiter passes through", func(t *testing.T) {
		next := okHandler(new(bool))
		handler := RateLimit(ratelimit.NewLimiter(0, 0), nil, zap.NewNop())(next)

		for i := 0; i < 10; i++ {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
		}
	})
}
