package authz

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/innledger/innledger/internal/shared"
)

// Middleware wires authorization checks for HTTP handlers. Effective
// permissions come from the inheritance engine, so cached results and
// every inheritance source apply uniformly at the HTTP boundary.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// RequireAny ensures the current user has at least one of the required
// permissions in the global scope.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			computed, ok := m.resolve(w, r, nil)
			if !ok {
				return
			}
			for _, p := range normalized {
				if computed.Has(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current user has every required permission in
// the global scope.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			computed, ok := m.resolve(w, r, nil)
			if !ok {
				return
			}
			for _, p := range normalized {
				if !computed.Has(p) {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireForProperty ensures the permission within the property named
// by the {propertyID} route parameter.
func (m Middleware) RequireForProperty(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "propertyID")
			propertyID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			computed, ok := m.resolve(w, r, &propertyID)
			if !ok {
				return
			}
			if !computed.Has(perm) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) resolve(w http.ResponseWriter, r *http.Request, propertyID *int64) (*ComputedPermissions, bool) {
	userID, ok := m.currentUserID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, false
	}
	computed, err := m.Engine.Compute(r.Context(), userID, propertyID, ComputeOptions{})
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("authorization resolve", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, false
	}
	return computed, true
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("authorization parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}
