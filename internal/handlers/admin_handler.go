package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	"github.com/pedro17pedroo/tatucloudfile/internal/middleware"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
	"gorm.io/gorm"
)

// AdminHandler covers plan management, account moderation, and remote
// storage administration. Every route behind it requires an admin session.
type AdminHandler struct {
	db      *gorm.DB
	manager *remote.Manager
}

func NewAdminHandler(db *gorm.DB, manager *remote.Manager) *AdminHandler {
	return &AdminHandler{db: db, manager: manager}
}

type PlanRequest struct {
	Name            string `json:"name"`
	StorageLimit    int64  `json:"storage_limit"`
	PriceCents      int64  `json:"price_cents"`
	APICallsPerHour int    `json:"api_calls_per_hour"`
}

func (h *AdminHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	var plans []models.Plan
	if err := h.db.Order("storage_limit").Find(&plans).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to list plans")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (h *AdminHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Name == "" || req.StorageLimit <= 0 {
		middleware.RespondError(w, http.StatusBadRequest, "Name and a positive storage limit are required")
		return
	}

	plan := models.Plan{
		Name:            req.Name,
		StorageLimit:    req.StorageLimit,
		PriceCents:      req.PriceCents,
		APICallsPerHour: req.APICallsPerHour,
	}
	if err := h.db.Create(&plan).Error; err != nil {
		middleware.RespondError(w, http.StatusConflict, "Failed to create plan")
		return
	}
	middleware.RespondJSON(w, http.StatusCreated, plan)
}

// UpdatePlan edits a plan in place. Users on the plan see the new ceiling
// immediately; accounts already above a lowered ceiling keep their files but
// cannot upload more.
func (h *AdminHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := parseID(w, r, "planID")
	if !ok {
		return
	}

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	var plan models.Plan
	if err := h.db.First(&plan, planID).Error; err != nil {
		middleware.RespondError(w, http.StatusNotFound, "Plan not found")
		return
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.StorageLimit > 0 {
		updates["storage_limit"] = req.StorageLimit
	}
	if req.PriceCents >= 0 {
		updates["price_cents"] = req.PriceCents
	}
	if req.APICallsPerHour > 0 {
		updates["api_calls_per_hour"] = req.APICallsPerHour
	}
	if err := h.db.Model(&plan).Updates(updates).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to update plan")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, plan)
}

func (h *AdminHandler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := parseID(w, r, "planID")
	if !ok {
		return
	}

	var users int64
	if err := h.db.Model(&models.User{}).Where("plan_id = ?", planID).Count(&users).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to check plan usage")
		return
	}
	if users > 0 {
		middleware.RespondError(w, http.StatusConflict, "Plan still has subscribed users")
		return
	}

	result := h.db.Delete(&models.Plan{}, planID)
	if result.Error != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to delete plan")
		return
	}
	if result.RowsAffected == 0 {
		middleware.RespondError(w, http.StatusNotFound, "Plan not found")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := h.db.Preload("Plan").Order("id").Find(&users).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]any{"users": users})
}

type UpdateUserRequest struct {
	PlanID      *uint `json:"plan_id"`
	IsSuspended *bool `json:"is_suspended"`
}

// UpdateUser changes a user's plan or suspension state. Suspension takes
// effect on the user's next request; live sessions and API keys both check
// the flag.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r, "userID")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	updates := map[string]interface{}{}
	if req.PlanID != nil {
		var plan models.Plan
		if err := h.db.First(&plan, *req.PlanID).Error; err != nil {
			middleware.RespondError(w, http.StatusBadRequest, "Unknown plan")
			return
		}
		updates["plan_id"] = *req.PlanID
	}
	if req.IsSuspended != nil {
		updates["is_suspended"] = *req.IsSuspended
	}
	if len(updates) == 0 {
		middleware.RespondError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	if err := h.db.Model(&user).Updates(updates).Error; err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, user)
}

type CredentialsRequest struct {
	Endpoint     string `json:"endpoint"`
	Region       string `json:"region"`
	Bucket       string `json:"bucket"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	UsePathStyle bool   `json:"use_path_style"`
}

// TestCredentials validates submitted storage credentials on a throwaway
// client. The live connection handle is never touched, so a bad test cannot
// break in-flight transfers.
func (h *AdminHandler) TestCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Bucket == "" {
		middleware.RespondError(w, http.StatusBadRequest, "Bucket is required")
		return
	}

	err := remote.TestConnection(r.Context(), remote.S3Config{
		Endpoint:     req.Endpoint,
		Region:       req.Region,
		Bucket:       req.Bucket,
		AccessKey:    req.AccessKey,
		SecretKey:    req.SecretKey,
		UsePathStyle: req.UsePathStyle,
	})
	if err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Credential test failed")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetConnection drops the cached remote handle so the next operation
// reconnects with current configuration.
func (h *AdminHandler) ResetConnection(w http.ResponseWriter, r *http.Request) {
	h.manager.Reset()
	logger.Info("remote storage connection reset by admin")
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
