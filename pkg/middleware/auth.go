package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/httputil"
)

// AuthMiddleware authenticates Bearer session tokens and stores the user
// descriptor in the request context
type AuthMiddleware struct {
	tokenManager *auth.TokenManager
	emitter      *audit.Emitter
	optional     bool // If true, allow requests without an Authorization header
}

// NewAuthMiddleware creates a new authentication middleware. emitter may be nil.
func NewAuthMiddleware(tokenManager *auth.TokenManager, emitter *audit.Emitter, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokenManager: tokenManager,
		emitter:      emitter,
		optional:     optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			m.loginFailed(r, "malformed authorization header")
			unauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.tokenManager.ValidateToken(parts[1])
		if err != nil {
			m.loginFailed(r, "invalid or expired token")
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := auth.WithUser(r.Context(), claims.Descriptor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) loginFailed(r *http.Request, reason string) {
	m.emitter.For(r.Context(), nil).LogSecurityEvent(
		audit.EventLoginFailed,
		audit.RiskMedium,
		reason,
		nil,
	)
}

func unauthorized(w http.ResponseWriter, message string) {
	httputil.WriteDenied(w, http.StatusUnauthorized, message, "unauthenticated")
}
