package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pedro17pedroo/tatucloudfile/internal/auth"
	"github.com/pedro17pedroo/tatucloudfile/internal/config"
	"github.com/pedro17pedroo/tatucloudfile/internal/files"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	"github.com/pedro17pedroo/tatucloudfile/internal/middleware"
	"github.com/pedro17pedroo/tatucloudfile/internal/quota"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
)

type FileHandler struct {
	svc   *files.Service
	quota *quota.Accountant
	cfg   *config.Config
}

func NewFileHandler(svc *files.Service, accountant *quota.Accountant, cfg *config.Config) *FileHandler {
	return &FileHandler{svc: svc, quota: accountant, cfg: cfg}
}

// Upload accepts a multipart form with a "file" part and an optional "path"
// field naming the logical destination folder.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		middleware.RespondError(w, http.StatusRequestEntityTooLarge, "File too large or malformed form")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer part.Close()

	file, err := h.svc.Upload(r.Context(), files.UploadRequest{
		UserID:      user.ID,
		Content:     part,
		Filename:    header.Filename,
		Size:        header.Size,
		MimeType:    header.Header.Get("Content-Type"),
		LogicalPath: r.FormValue("path"),
	})
	if err != nil {
		respondFileError(w, err, "Upload failed")
		return
	}

	middleware.RespondJSON(w, http.StatusCreated, file)
}

// UploadBatch accepts a multipart form with any number of "files" parts and
// an optional shared "path" field. Files are stored independently; the
// response carries a per-file outcome so a single quota rejection does not
// fail the whole batch.
func (h *FileHandler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		middleware.RespondError(w, http.StatusRequestEntityTooLarge, "Files too large or malformed form")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		middleware.RespondError(w, http.StatusBadRequest, "Missing files")
		return
	}
	logicalPath := r.FormValue("path")

	reqs := make([]files.UploadRequest, 0, len(headers))
	opened := make([]io.Closer, 0, len(headers))
	defer func() {
		for _, c := range opened {
			c.Close()
		}
	}()
	for _, header := range headers {
		part, err := header.Open()
		if err != nil {
			middleware.RespondError(w, http.StatusBadRequest, "Unreadable file part")
			return
		}
		opened = append(opened, part)
		reqs = append(reqs, files.UploadRequest{
			UserID:      user.ID,
			Content:     part,
			Filename:    header.Filename,
			Size:        header.Size,
			MimeType:    header.Header.Get("Content-Type"),
			LogicalPath: logicalPath,
		})
	}

	results := h.svc.UploadMany(r.Context(), reqs)

	status := http.StatusCreated
	failed := 0
	for _, result := range results {
		if result.Error != "" {
			failed++
		}
	}
	if failed == len(results) {
		status = http.StatusBadRequest
	}
	middleware.RespondJSON(w, status, map[string]any{"results": results})
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	fileID, ok := parseID(w, r, "fileID")
	if !ok {
		return
	}

	file, err := h.svc.Get(r.Context(), user.ID, fileID)
	if err != nil {
		respondFileError(w, err, "Failed to load file")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, file)
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	fileID, ok := parseID(w, r, "fileID")
	if !ok {
		return
	}

	rc, file, err := h.svc.Download(r.Context(), user.ID, fileID)
	if err != nil {
		respondFileError(w, err, "Download failed")
		return
	}
	defer rc.Close()

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.FileSize, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already out; all that is left is logging.
		logger.Warn("download stream interrupted", "file_id", file.ID, "error", err)
	}
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	fileID, ok := parseID(w, r, "fileID")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), user.ID, fileID); err != nil {
		respondFileError(w, err, "Delete failed")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type MoveRequest struct {
	Path string `json:"path"`
}

func (h *FileHandler) Move(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	fileID, ok := parseID(w, r, "fileID")
	if !ok {
		return
	}

	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	file, err := h.svc.Move(r.Context(), user.ID, fileID, req.Path)
	if err != nil {
		respondFileError(w, err, "Move failed")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, file)
}

// Replace swaps the file's content while keeping its identity and location.
func (h *FileHandler) Replace(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	fileID, ok := parseID(w, r, "fileID")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		middleware.RespondError(w, http.StatusRequestEntityTooLarge, "File too large or malformed form")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer part.Close()

	file, err := h.svc.Replace(r.Context(), user.ID, fileID, part, header.Filename, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		respondFileError(w, err, "Replace failed")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, file)
}

// List returns the files in one folder; ?folder_id= empty or absent means
// the user's root.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	var folderID *uint
	if raw := r.URL.Query().Get("folder_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			middleware.RespondError(w, http.StatusBadRequest, "Invalid folder_id")
			return
		}
		v := uint(id)
		folderID = &v
	}

	list, err := h.svc.List(r.Context(), user.ID, folderID)
	if err != nil {
		respondFileError(w, err, "Failed to list files")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]any{"files": list})
}

func (h *FileHandler) Search(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	query := r.URL.Query().Get("q")
	if query == "" {
		middleware.RespondError(w, http.StatusBadRequest, "Missing query parameter q")
		return
	}

	list, err := h.svc.Search(r.Context(), user.ID, query)
	if err != nil {
		respondFileError(w, err, "Search failed")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]any{"files": list})
}

// Usage reports the user's storage consumption against their plan ceiling.
func (h *FileHandler) Usage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	used, limit, err := h.quota.Usage(r.Context(), user.ID)
	if err != nil {
		middleware.RespondError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	middleware.RespondJSON(w, http.StatusOK, map[string]any{
		"storage_used":  used,
		"storage_limit": limit,
	})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uint, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		middleware.RespondError(w, http.StatusBadRequest, "Invalid "+param)
		return 0, false
	}
	return uint(id), true
}

// respondFileError maps lifecycle errors onto HTTP statuses without leaking
// whether a foreign file exists.
func respondFileError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, files.ErrNotFound):
		middleware.RespondError(w, http.StatusNotFound, "File not found")
	case errors.Is(err, quota.ErrQuotaExceeded):
		middleware.RespondError(w, http.StatusInsufficientStorage, "Storage quota exceeded")
	case errors.Is(err, remote.ErrNotFound):
		middleware.RespondError(w, http.StatusNotFound, "File content is no longer available")
	default:
		middleware.RespondError(w, http.StatusInternalServerError, fallback)
	}
}
