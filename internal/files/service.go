package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/maruel/natural"
	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/folders"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	"github.com/pedro17pedroo/tatucloudfile/internal/metrics"
	"github.com/pedro17pedroo/tatucloudfile/internal/quota"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound covers both a missing file and a file owned by another user;
// callers cannot tell the two apart.
var ErrNotFound = errors.New("file not found")

// Service drives the file lifecycle: every mutation touches the remote
// backend, the metadata row, and the owner's quota counter, in that order of
// concern. Quota is reserved before any remote byte moves; remote mutations
// are bracketed by intent records so the reconciler can repair crashes
// between the remote call and the local write.
type Service struct {
	db      *gorm.DB
	remote  *remote.Manager
	quota   *quota.Accountant
	folders *folders.Resolver
}

func NewService(db *gorm.DB, manager *remote.Manager, accountant *quota.Accountant, resolver *folders.Resolver) *Service {
	return &Service{
		db:      db,
		remote:  manager,
		quota:   accountant,
		folders: resolver,
	}
}

// UploadRequest carries everything needed to store one new file.
type UploadRequest struct {
	UserID   uint
	Content  io.Reader
	Filename string
	Size     int64
	MimeType string
	// LogicalPath is the slash-delimited folder path; missing folders are
	// created on the way down. Empty or "/" targets the user's root.
	LogicalPath string
	Metadata    map[string]string
}

// Upload stores new content and records it against the user's quota.
// The reservation happens first so an over-quota request never reaches the
// remote backend; any later failure hands the bytes back.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (file *models.File, err error) {
	defer func() { metrics.RecordFileOperation("upload", err) }()

	backend, err := s.remote.Get(ctx)
	if err != nil {
		return nil, err
	}

	if err = s.quota.Reserve(ctx, req.UserID, req.Size); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if relErr := s.quota.Release(context.WithoutCancel(ctx), req.UserID, req.Size); relErr != nil {
				logger.Error("failed to release quota after upload failure", "user_id", req.UserID, "error", relErr)
			}
		}
	}()

	folderID, err := s.folders.Resolve(ctx, req.UserID, req.LogicalPath)
	if err != nil {
		return nil, err
	}
	remotePath, err := s.folders.RemotePath(ctx, folderID, req.UserID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	obj, err := backend.Upload(ctx, req.Content, req.Filename, remotePath)
	metrics.RecordRemoteCall("upload", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	op, err := s.beginOp(ctx, req.UserID, models.OpUpload, obj.ID, req.Size)
	if err != nil {
		s.deleteRemoteOrphan(ctx, backend, obj.ID)
		return nil, err
	}

	file = &models.File{
		UserID:   req.UserID,
		FolderID: folderID,
		Filename: req.Filename,
		FilePath: folders.Normalize(req.LogicalPath),
		FileSize: req.Size,
		MimeType: req.MimeType,
		RemoteID: obj.ID,
	}
	if req.Metadata != nil {
		file.Metadata = datatypes.NewJSONType(req.Metadata)
	}
	if err = s.db.WithContext(ctx).Create(file).Error; err != nil {
		// If cleanup fails the op stays pending and the reconciler
		// removes the orphaned object later.
		if s.deleteRemoteOrphan(ctx, backend, obj.ID) {
			s.commitOp(ctx, op)
		}
		return nil, fmt.Errorf("failed to persist file record: %w", err)
	}

	s.commitOp(ctx, op)
	return file, nil
}

// BatchResult reports the outcome of one file in a batch upload.
type BatchResult struct {
	Filename string       `json:"filename"`
	File     *models.File `json:"file,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// UploadMany stores several files in one call. Each file goes through the
// full single-upload path independently, so one rejection (quota, remote)
// never rolls back or blocks the others. The remote backend has no batch
// primitive; a multi-file request is inherently one object store per file.
func (s *Service) UploadMany(ctx context.Context, reqs []UploadRequest) []BatchResult {
	results := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		result := BatchResult{Filename: req.Filename}
		file, err := s.Upload(ctx, req)
		switch {
		case err == nil:
			result.File = file
		case errors.Is(err, quota.ErrQuotaExceeded):
			result.Error = "storage quota exceeded"
		default:
			result.Error = "upload failed"
		}
		results = append(results, result)
	}
	return results
}

// Get returns a single file scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, fileID uint) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", fileID, userID).
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load file %d: %w", fileID, err)
	}
	return &file, nil
}

// Download streams the file's content from the remote backend. The stored
// remote ID is used directly; no directory listing or tree walk is involved.
func (s *Service) Download(ctx context.Context, userID, fileID uint) (rc io.ReadCloser, file *models.File, err error) {
	defer func() { metrics.RecordFileOperation("download", err) }()

	file, err = s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}

	backend, err := s.remote.Get(ctx)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	rc, err = backend.Open(ctx, file.RemoteID)
	metrics.RecordRemoteCall("open", err, time.Since(start))
	if err != nil {
		return nil, nil, err
	}
	return rc, file, nil
}

// Delete removes the remote object first, then the metadata row, then hands
// the bytes back to the quota. A failed remote delete leaves everything in
// place; its pending intent record makes the reconciler retry later.
func (s *Service) Delete(ctx context.Context, userID, fileID uint) (err error) {
	defer func() { metrics.RecordFileOperation("delete", err) }()

	file, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return err
	}

	backend, err := s.remote.Get(ctx)
	if err != nil {
		return err
	}

	op, err := s.beginOp(ctx, userID, models.OpDelete, file.RemoteID, file.FileSize)
	if err != nil {
		return err
	}

	start := time.Now()
	err = backend.Delete(ctx, file.RemoteID)
	metrics.RecordRemoteCall("delete", err, time.Since(start))
	if err != nil {
		return err
	}

	if err = s.db.WithContext(ctx).Delete(file).Error; err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	// The row is gone at this point; a canceled request context must not
	// stop the bytes from being handed back.
	if err = s.quota.Release(context.WithoutCancel(ctx), userID, file.FileSize); err != nil {
		return err
	}

	s.commitOp(ctx, op)
	return nil
}

// Replace swaps the file's content in place, renaming it when name is
// non-empty. Only the size delta is reserved, so shrinking a file always
// succeeds quota-wise. The remote backend issues a fresh object ID for the
// replacement; the row follows it.
func (s *Service) Replace(ctx context.Context, userID, fileID uint, content io.Reader, name string, size int64, mimeType string) (file *models.File, err error) {
	defer func() { metrics.RecordFileOperation("replace", err) }()

	file, err = s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	backend, err := s.remote.Get(ctx)
	if err != nil {
		return nil, err
	}

	delta := size - file.FileSize
	if delta > 0 {
		if err = s.quota.Reserve(ctx, userID, delta); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				if relErr := s.quota.Release(context.WithoutCancel(ctx), userID, delta); relErr != nil {
					logger.Error("failed to release quota after replace failure", "user_id", userID, "error", relErr)
				}
			}
		}()
	}

	remotePath, err := s.folders.RemotePath(ctx, file.FolderID, userID)
	if err != nil {
		return nil, err
	}

	op, err := s.beginOp(ctx, userID, models.OpReplace, file.RemoteID, file.FileSize)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = file.Filename
	}

	start := time.Now()
	obj, err := backend.Replace(ctx, file.RemoteID, content, name, remotePath)
	metrics.RecordRemoteCall("replace", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"remote_id": obj.ID,
		"filename":  name,
		"file_size": size,
	}
	if mimeType != "" {
		updates["mime_type"] = mimeType
	}
	if err = s.db.WithContext(ctx).Model(file).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update file record: %w", err)
	}

	if delta < 0 {
		if err = s.quota.Release(ctx, userID, -delta); err != nil {
			return nil, err
		}
	}

	s.commitOp(ctx, op)
	return file, nil
}

// Move relocates the file to another logical folder, creating the target
// chain as needed. Storage usage is unaffected. The remote backend hands
// back a new object ID for the relocated content.
func (s *Service) Move(ctx context.Context, userID, fileID uint, newLogicalPath string) (file *models.File, err error) {
	defer func() { metrics.RecordFileOperation("move", err) }()

	file, err = s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	backend, err := s.remote.Get(ctx)
	if err != nil {
		return nil, err
	}

	folderID, err := s.folders.Resolve(ctx, userID, newLogicalPath)
	if err != nil {
		return nil, err
	}
	remotePath, err := s.folders.RemotePath(ctx, folderID, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	obj, err := backend.Move(ctx, file.RemoteID, remotePath)
	metrics.RecordRemoteCall("move", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"folder_id": folderID,
		"file_path": folders.Normalize(newLogicalPath),
		"remote_id": obj.ID,
	}
	if err = s.db.WithContext(ctx).Model(file).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update file record: %w", err)
	}
	return file, nil
}

// List returns the user's files in one folder (nil means root), in natural
// name order so "file2" sorts before "file10".
func (s *Service) List(ctx context.Context, userID uint, folderID *uint) ([]models.File, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if folderID == nil {
		query = query.Where("folder_id IS NULL")
	} else {
		query = query.Where("folder_id = ?", *folderID)
	}

	var list []models.File
	if err := query.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	sortNatural(list)
	return list, nil
}

// Search finds the user's files whose name or folder path contains the
// query, case-insensitively, across every folder.
func (s *Service) Search(ctx context.Context, userID uint, query string) ([]models.File, error) {
	pattern := "%" + escapeSQLLike(strings.ToLower(query)) + "%"

	var list []models.File
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND (LOWER(filename) LIKE ? ESCAPE '\\' OR LOWER(file_path) LIKE ? ESCAPE '\\')", userID, pattern, pattern).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	sortNatural(list)
	return list, nil
}

func sortNatural(list []models.File) {
	sort.Slice(list, func(i, j int) bool {
		return natural.Less(list[i].Filename, list[j].Filename)
	})
}

// escapeSQLLike neutralizes LIKE metacharacters in user input.
func escapeSQLLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// beginOp records the intent to mutate remote storage before the local
// metadata moves. Pending records older than the reconciler's threshold are
// treated as crashed operations and repaired.
func (s *Service) beginOp(ctx context.Context, userID uint, kind, remoteID string, size int64) (*models.StorageOp, error) {
	op := &models.StorageOp{
		UserID:   userID,
		Kind:     kind,
		RemoteID: remoteID,
		ByteSize: size,
		Status:   models.OpPending,
	}
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return nil, fmt.Errorf("failed to record storage intent: %w", err)
	}
	return op, nil
}

func (s *Service) commitOp(ctx context.Context, op *models.StorageOp) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(op).
		Update("status", models.OpCommitted).Error
	if err != nil {
		logger.Warn("failed to commit storage op", "op_id", op.ID, "error", err)
	}
}

// deleteRemoteOrphan best-effort removes a remote object whose local record
// never landed. Reports whether the object is gone.
func (s *Service) deleteRemoteOrphan(ctx context.Context, backend remote.Storage, remoteID string) bool {
	cleanupCtx := context.WithoutCancel(ctx)
	if err := backend.Delete(cleanupCtx, remoteID); err != nil {
		logger.Warn("failed to clean up orphaned remote object", "remote_id", remoteID, "error", err)
		return false
	}
	return true
}
