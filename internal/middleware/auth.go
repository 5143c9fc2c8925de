package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
)

type contextKey string

const (
	requestorKey contextKey = "requestor"
	roleKey      contextKey = "caller_role"
)

// RequestorFromContext retrieves the authenticated caller identity set by
// InternalAuth.
func RequestorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestorKey).(string)
	return id
}

// WithRequestor returns a new context with the given caller identity set.
// Useful for testing handlers that depend on InternalAuth.
func WithRequestor(ctx context.Context, requestor string) context.Context {
	return context.WithValue(ctx, requestorKey, requestor)
}

// RoleFromContext retrieves the caller's role set by InternalAuth, used by
// rbac.HasPermission to gate individual admin operations. Empty if the
// caller sent no X-Caller-Role header.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// WithRole returns a new context with the given caller role set. Useful for
// testing handlers that depend on InternalAuth's RBAC wiring.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// InternalAuth authenticates the narrow admin/health surface with a shared
// service-to-service secret (X-Internal-Auth header) plus a caller identity
// (X-Requestor header), constant-time compared against secret. It also
// threads the caller's role (X-Caller-Role header) into the request context
// for per-operation rbac.HasPermission checks downstream; a missing role
// denies every rbac-gated operation rather than defaulting to one.
func InternalAuth(secret string) func(http.Handler) http.Handler {
	secretBytes := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Internal-Auth")
			requestor := strings.TrimSpace(r.Header.Get("X-Requestor"))
			role := strings.TrimSpace(r.Header.Get("X-Caller-Role"))

			if len(secretBytes) == 0 || token == "" || subtle.ConstantTimeCompare([]byte(token), secretBytes) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid internal auth token")
				return
			}
			if requestor == "" || len(requestor) > 256 || !isPrintableASCII(requestor) {
				respondError(w, http.StatusBadRequest, "invalid requestor identity")
				return
			}
			if role != "" && (len(role) > 64 || !isPrintableASCII(role)) {
				respondError(w, http.StatusBadRequest, "invalid caller role")
				return
			}

			ctx := context.WithValue(r.Context(), requestorKey, requestor)
			ctx = context.WithValue(ctx, roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isPrintableASCII checks that every rune is a printable ASCII character.
func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
