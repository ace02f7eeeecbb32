package auth

import (
	"net/http"
	"strings"

	"github.com/noah-isme/backend-antar/internal/common"
)

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Verifier *Verifier
}

// RequireAuth rejects requests without a valid bearer token.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" && websocketRequest(r) {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if m.Verifier == nil || token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		p, err := m.Verifier.Parse(token)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithPrincipal(r.Context(), p)))
	})
}

// RequireRole allows only principals holding one of roles. It must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := common.PrincipalFrom(r.Context())
			if !ok {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
				return
			}
			if !allowed[p.Role] {
				common.WriteError(w, common.Forbidden("role not permitted for this operation"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Browsers cannot set headers on WebSocket upgrades, so the token may ride in the query.
func websocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
