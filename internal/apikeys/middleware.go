package apikeys

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/pedro17pedroo/tatucloudfile/internal/auth"
	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
)

type contextKey string

// KeyContextKey holds the *models.APIKey that authenticated the request.
const KeyContextKey contextKey = "api_key"

// GetKey returns the API key that authenticated the request, or nil.
func GetKey(r *http.Request) *models.APIKey {
	key, _ := r.Context().Value(KeyContextKey).(*models.APIKey)
	return key
}

// keyRateLimiter applies each plan's hourly call ceiling per API key. One
// tollbooth limiter is kept per distinct rate so keys on the same plan
// share configuration but are counted separately by key prefix.
type keyRateLimiter struct {
	mu       sync.Mutex
	limiters map[int]*limiter.Limiter
}

func newKeyRateLimiter() *keyRateLimiter {
	return &keyRateLimiter{limiters: make(map[int]*limiter.Limiter)}
}

func (rl *keyRateLimiter) limiterFor(callsPerHour int) *limiter.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if lmt, ok := rl.limiters[callsPerHour]; ok {
		return lmt
	}

	perSecond := float64(callsPerHour) / 3600.0
	lmt := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Hour,
	})
	lmt.SetBurst(callsPerHour)
	rl.limiters[callsPerHour] = lmt
	return lmt
}

// RequireAPIKey authenticates programmatic callers via bearer token, applies
// the owning plan's hourly rate ceiling, and stamps the acting user onto the
// request context.
func (s *Service) RequireAPIKey(defaultCallsPerHour int) func(http.Handler) http.Handler {
	rl := newKeyRateLimiter()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "Missing API key", http.StatusUnauthorized)
				return
			}

			user, key, err := s.Authenticate(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				msg := "Invalid API key"
				if errors.Is(err, ErrKeyExpired) {
					msg = "API key trial has expired"
				}
				http.Error(w, msg, status)
				return
			}

			callsPerHour := user.Plan.APICallsPerHour
			if callsPerHour <= 0 {
				callsPerHour = defaultCallsPerHour
			}
			if httpErr := tollbooth.LimitByKeys(rl.limiterFor(callsPerHour), []string{key.KeyPrefix}); httpErr != nil {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			ctx := auth.WithUser(r.Context(), user)
			ctx = context.WithValue(ctx, KeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
