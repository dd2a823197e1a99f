package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pedro17pedroo/tatucloudfile/internal/apikeys"
	"github.com/pedro17pedroo/tatucloudfile/internal/auth"
	"github.com/pedro17pedroo/tatucloudfile/internal/middleware"
)

type APIKeyHandler struct {
	svc *apikeys.Service
}

func NewAPIKeyHandler(svc *apikeys.Service) *APIKeyHandler {
	return &APIKeyHandler{svc: svc}
}

type CreateKeyRequest struct {
	Name    string `json:"name"`
	IsTrial bool   `json:"is_trial"`
}

// Create issues a new key. The response is the only place the full token
// appears; afterwards it can be re-read via Reveal until the cache window
// closes.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Name == "" {
		middleware.RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	key, token, err := h.svc.Generate(r.Context(), user.ID, req.Name, req.IsTrial)
	if err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	middleware.RespondJSON(w, http.StatusCreated, map[string]any{
		"key":   key,
		"token": token,
	})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	keys, err := h.svc.List(r.Context(), user.ID)
	if err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// Reveal returns the plaintext token while the issuance cache still holds
// it. After the window closes the token is gone for good.
func (h *APIKeyHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	keyID, ok := parseID(w, r, "keyID")
	if !ok {
		return
	}

	token, found := h.svc.Reveal(keyID, user.ID)
	if !found {
		middleware.RespondError(w, http.StatusGone, "Token is no longer available")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	keyID, ok := parseID(w, r, "keyID")
	if !ok {
		return
	}

	if err := h.svc.Revoke(r.Context(), keyID, user.ID); err != nil {
		if errors.Is(err, apikeys.ErrInvalidKey) {
			middleware.RespondError(w, http.StatusNotFound, "API key not found")
			return
		}
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to revoke API key")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
