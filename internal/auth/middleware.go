package auth

import (
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"gorm.io/gorm"
)

// RequireSession loads the user referenced by the scs session and rejects
// requests without one. Suspended accounts are treated as unauthenticated.
func RequireSession(db *gorm.DB, sessions *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := sessions.GetInt(r.Context(), "user_id")
			if userID == 0 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			var user models.User
			if err := db.First(&user, userID).Error; err != nil || user.IsSuspended {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &user)))
		})
	}
}

// RequireAdmin requires an authenticated admin user. Expects RequireSession
// (or the API key gate) to have run first.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r)
			if user == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !user.IsAdmin {
				http.Error(w, "Forbidden - Admin access required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
