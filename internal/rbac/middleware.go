package rbac

import (
	"net/http"
)

var defaultChecker = NewChecker(nil)

// Require enforces a single permission under the default policy. Requests
// with no role at all are unauthenticated rather than forbidden.
func Require(perm Permission) func(http.Handler) http.Handler {
	return defaultChecker.RequireAny(perm)
}

// RequireAny passes when the role holds at least one of perms.
func (c *Checker) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			if !c.Any(role, perms...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
