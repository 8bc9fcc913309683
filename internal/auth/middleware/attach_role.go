package auth

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// AttachUserFromStore replaces the role and username carried by the token with
// the stored account, so role changes and deletions take effect before the
// token expires.
func AttachUserFromStore(store exam.Store, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := SubjectFromContext(ctx)

			u, err := store.FindUserByID(ctx, sub)
			switch {
			case err == nil:
				ctx = rbac.WithRole(ctx, u.Role)
				ctx = WithUsername(ctx, u.Username)
				next.ServeHTTP(w, r.WithContext(ctx))
			case errors.Is(err, exam.ErrNotFound):
				http.Error(w, "unknown account", http.StatusUnauthorized)
			default:
				log.Error("load account", zap.String("sub", sub), zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		})
	}
}
