package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware checks bearer tokens on the read API.
type Middleware struct {
	secret []byte
	policy Policy
	logger *zap.SugaredLogger
}

// MiddlewareOption customizes the middleware.
type MiddlewareOption func(*Middleware)

// WithLogger logs rejected requests.
func WithLogger(logger *zap.SugaredLogger) MiddlewareOption {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMiddleware constructs the token middleware.
func NewMiddleware(secret []byte, policy Policy, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{secret: secret, policy: policy, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap rejects requests without a valid token (401) or with a role below the
// route's requirement (403). Accepted requests carry the identity in context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r), m.secret)
		if err != nil {
			m.logger.Debugw("token rejected", "path", r.URL.Path, "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.logger.Infow("role below requirement", "path", r.URL.Path, "method", r.Method,
				"subject", claims.Subject, "role", claims.Role, "required", required)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{Role: role, Subject: claims.Subject})))
	})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
