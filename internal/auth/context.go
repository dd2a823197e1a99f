package auth

import (
	"context"
	"net/http"

	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
)

type contextKey string

// UserContextKey holds the authenticated *models.User for the request,
// whether it arrived via session cookie or API key.
const UserContextKey contextKey = "user"

// WithUser stamps the acting identity onto the request context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUser returns the authenticated user for the request, or nil.
func GetUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(UserContextKey).(*models.User)
	return user
}
