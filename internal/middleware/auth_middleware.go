package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fintrack/fintrack/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const claimsKey contextKey = "claims"

// MessageRevoked is what clients look for to tell a revoked token from an
// expired one.
const MessageRevoked = "Token has been revoked"

// RevocationChecker reports whether a token ID has been blacklisted.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type AuthMiddleware struct {
	jwtService *service.JWTService
	revoked    RevocationChecker
	logger     *logrus.Logger
}

func NewAuthMiddleware(jwtService *service.JWTService, revoked RevocationChecker, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		revoked:    revoked,
		logger:     logger,
	}
}

// ClaimsFromContext returns the access token claims RequireAuth attached.
func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok
}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *service.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondUnauthorized(w, "Invalid authorization header format")
			return
		}

		claims, err := m.jwtService.VerifyToken(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			m.respondUnauthorized(w, "Invalid or expired token")
			return
		}

		if claims.Type != service.TokenTypeAccess {
			m.respondUnauthorized(w, "Invalid token type")
			return
		}

		revoked, err := m.revoked.IsRevoked(r.Context(), claims.JTI())
		if err != nil {
			m.logger.WithError(err).Error("Failed to check token revocation")
			m.respond(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate token")
			return
		}
		if revoked {
			m.respondUnauthorized(w, MessageRevoked)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, message string) {
	m.respond(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func (m *AuthMiddleware) respond(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
