package routes

import (
	"net/http"

	csrf "filippo.io/csrf/gorilla"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/pedro17pedroo/tatucloudfile/internal/apikeys"
	"github.com/pedro17pedroo/tatucloudfile/internal/auth"
	"github.com/pedro17pedroo/tatucloudfile/internal/config"
	"github.com/pedro17pedroo/tatucloudfile/internal/files"
	"github.com/pedro17pedroo/tatucloudfile/internal/handlers"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	"github.com/pedro17pedroo/tatucloudfile/internal/middleware"
	"github.com/pedro17pedroo/tatucloudfile/internal/quota"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Setup wires every route onto the provided chi.Router.
//
// Two parallel surfaces expose the same file operations: a session-backed
// one for the web frontend and an API-key-backed one under /api/v1 for
// programmatic clients. CSRF protection applies only to the session surface;
// bearer-token requests carry no ambient credentials for a cross-site page
// to abuse.
func Setup(
	r chi.Router,
	db *gorm.DB,
	cfg *config.Config,
	manager *remote.Manager,
	sessionManager *scs.SessionManager,
	fileSvc *files.Service,
	keySvc *apikeys.Service,
	version string,
) {
	accountant := quota.NewAccountant(db)

	authHandler := handlers.NewAuthHandler(db, cfg, sessionManager)
	fileHandler := handlers.NewFileHandler(fileSvc, accountant, cfg)
	keyHandler := handlers.NewAPIKeyHandler(keySvc)
	adminHandler := handlers.NewAdminHandler(db, manager)
	healthHandler := handlers.NewHealthHandler(db, manager, version)

	authRateLimit := middleware.AuthRateLimit(cfg.AuthRateLimitPerMin)

	// CSRF protection via Fetch Metadata headers; requests from non-browser
	// clients pass through because they carry no Sec-Fetch-Site header.
	var csrfMiddleware func(http.Handler) http.Handler
	if cfg.CSRFEnabled {
		csrfMiddleware = csrf.Protect(
			[]byte(cfg.SessionSecret),
			csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logger.Warn("csrf validation failed",
					"reason", csrf.FailureReason(r),
					"method", r.Method,
					"path", r.URL.Path,
				)
				middleware.RespondError(w, http.StatusForbidden, "Forbidden")
			})),
		)
	} else {
		csrfMiddleware = func(next http.Handler) http.Handler {
			return next
		}
	}

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.RespondError(w, http.StatusNotFound, "Not found")
	})

	// Credential endpoints: session cookie issuance, rate limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(sessionManager.LoadAndSave)
		r.Use(authRateLimit)
		r.Post("/api/auth/register", authHandler.Register)
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Session-backed surface for the web frontend.
	r.Group(func(r chi.Router) {
		r.Use(sessionManager.LoadAndSave)
		r.Use(auth.RequireSession(db, sessionManager))
		r.Use(csrfMiddleware)

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)

		r.Post("/api/files", fileHandler.Upload)
		r.Post("/api/files/batch", fileHandler.UploadBatch)
		r.Get("/api/files", fileHandler.List)
		r.Get("/api/files/search", fileHandler.Search)
		r.Get("/api/files/{fileID}", fileHandler.Get)
		r.Get("/api/files/{fileID}/download", fileHandler.Download)
		r.Put("/api/files/{fileID}", fileHandler.Replace)
		r.Post("/api/files/{fileID}/move", fileHandler.Move)
		r.Delete("/api/files/{fileID}", fileHandler.Delete)
		r.Get("/api/usage", fileHandler.Usage)

		r.Post("/api/keys", keyHandler.Create)
		r.Get("/api/keys", keyHandler.List)
		r.Get("/api/keys/{keyID}/reveal", keyHandler.Reveal)
		r.Delete("/api/keys/{keyID}", keyHandler.Revoke)
	})

	// API-key surface for programmatic clients; same file operations,
	// bearer-token auth, per-key rate limit from the owner's plan.
	r.Group(func(r chi.Router) {
		r.Use(keySvc.RequireAPIKey(cfg.DefaultAPICallsPerHr))

		r.Post("/api/v1/files", fileHandler.Upload)
		r.Post("/api/v1/files/batch", fileHandler.UploadBatch)
		r.Get("/api/v1/files", fileHandler.List)
		r.Get("/api/v1/files/search", fileHandler.Search)
		r.Get("/api/v1/files/{fileID}", fileHandler.Get)
		r.Get("/api/v1/files/{fileID}/download", fileHandler.Download)
		r.Put("/api/v1/files/{fileID}", fileHandler.Replace)
		r.Post("/api/v1/files/{fileID}/move", fileHandler.Move)
		r.Delete("/api/v1/files/{fileID}", fileHandler.Delete)
		r.Get("/api/v1/usage", fileHandler.Usage)
	})

	// Admin surface: plan management, account moderation, storage admin.
	r.Group(func(r chi.Router) {
		r.Use(sessionManager.LoadAndSave)
		r.Use(auth.RequireSession(db, sessionManager))
		r.Use(auth.RequireAdmin())
		r.Use(csrfMiddleware)

		r.Get("/api/admin/plans", adminHandler.ListPlans)
		r.Post("/api/admin/plans", adminHandler.CreatePlan)
		r.Put("/api/admin/plans/{planID}", adminHandler.UpdatePlan)
		r.Delete("/api/admin/plans/{planID}", adminHandler.DeletePlan)

		r.Get("/api/admin/users", adminHandler.ListUsers)
		r.Put("/api/admin/users/{userID}", adminHandler.UpdateUser)

		r.Post("/api/admin/storage/test", adminHandler.TestCredentials)
		r.Post("/api/admin/storage/reset", adminHandler.ResetConnection)
	})
}
