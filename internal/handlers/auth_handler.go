package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/pedro17pedroo/tatucloudfile/internal/auth"
	"github.com/pedro17pedroo/tatucloudfile/internal/config"
	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/metrics"
	"github.com/pedro17pedroo/tatucloudfile/internal/middleware"
	"gorm.io/gorm"
)

type AuthHandler struct {
	db             *gorm.DB
	cfg            *config.Config
	sessionManager *scs.SessionManager
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, sessionManager *scs.SessionManager) *AuthHandler {
	return &AuthHandler{
		db:             db,
		cfg:            cfg,
		sessionManager: sessionManager,
	}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.EnableRegistration {
		middleware.RespondError(w, http.StatusForbidden, "Registration is disabled")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		middleware.RespondError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	var existing models.User
	if err := h.db.Where("username = ? OR email = ?", req.Username, req.Email).First(&existing).Error; err == nil {
		middleware.RespondError(w, http.StatusConflict, "Username or email already exists")
		return
	}

	var plan models.Plan
	if err := h.db.Where("name = ?", h.cfg.DefaultPlanName).First(&plan).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Default plan is not configured")
		return
	}

	passwordHash, err := auth.HashPassword(req.Password, h.cfg.BcryptCost)
	if err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		PlanID:       plan.ID,
	}
	if err := h.db.Create(&user).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	h.sessionManager.Put(r.Context(), "user_id", int(user.ID))

	middleware.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"plan":     plan.Name,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	var user models.User
	err := h.db.Where("username = ?", req.Username).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.RespondError(w, http.StatusInternalServerError, "Login failed")
			return
		}
		metrics.RecordLogin(false)
		middleware.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !auth.VerifyPassword(user.PasswordHash, req.Password) || user.IsSuspended {
		metrics.RecordLogin(false)
		middleware.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	h.sessionManager.Put(r.Context(), "user_id", int(user.ID))

	metrics.RecordLogin(true)
	middleware.RespondJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionManager.Destroy(r.Context()); err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to destroy session")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me returns the authenticated user's profile and plan.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	if user == nil {
		middleware.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var plan models.Plan
	if err := h.db.First(&plan, user.PlanID).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to load plan")
		return
	}

	middleware.RespondJSON(w, http.StatusOK, map[string]any{
		"id":            user.ID,
		"username":      user.Username,
		"email":         user.Email,
		"is_admin":      user.IsAdmin,
		"storage_used":  user.StorageUsed,
		"storage_limit": plan.StorageLimit,
		"plan":          plan.Name,
	})
}
