package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/promptcraft/promptcraft-hybrid/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// SecurityRecorder records authentication and authorization failures
type SecurityRecorder interface {
	RecordLoginFailure(userID, ipAddress, userAgent, reason string) error
	RecordPermissionDenied(userID, ipAddress, resource, requiredRole string) error
}

// LockoutChecker reports whether a subject is currently locked out
type LockoutChecker interface {
	IsLocked(userID string) bool
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	recorder  SecurityRecorder
	lockouts  LockoutChecker
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. recorder and lockouts may be nil.
func NewAuthMiddleware(validator TokenValidator, recorder SecurityRecorder, lockouts LockoutChecker, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		recorder:  recorder,
		lockouts:  lockouts,
		logger:    logger,
	}
}

// authTokenCookieName is the cookie name for JWT tokens (Authorization header takes precedence)
const authTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid JWT token whose subject
// is not locked out
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			if m.recorder != nil {
				if recErr := m.recorder.RecordLoginFailure("", ClientIP(r), r.UserAgent(), err.Error()); recErr != nil {
					m.logger.Warn("failed to record login failure", zap.Error(recErr))
				}
			}
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		if m.lockouts != nil && m.lockouts.IsLocked(claims.Sub) {
			m.logger.Warn("locked account rejected",
				zap.String("request_id", requestID),
				zap.String("sub", claims.Sub))
			_ = utils.WriteForbidden(w, "Account temporarily locked")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires a specific role
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !claims.HasRole(role) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("sub", claims.Sub),
					zap.String("required_role", role),
					zap.Strings("roles", claims.Roles))
				if m.recorder != nil {
					if err := m.recorder.RecordPermissionDenied(claims.Sub, ClientIP(r), r.Method+" "+r.URL.Path, role); err != nil {
						m.logger.Warn("failed to record permission denial", zap.Error(err))
					}
				}
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the request's remote address without the port. Behind
// chi's RealIP middleware this is the forwarded client address.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// extractToken extracts JWT from the Authorization header ("Bearer TOKEN") or
// the auth_token cookie. The header takes precedence when both are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
