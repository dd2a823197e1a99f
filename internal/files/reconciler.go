package files

import (
	"context"
	"errors"
	"time"

	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	"github.com/pedro17pedroo/tatucloudfile/internal/metrics"
	"github.com/pedro17pedroo/tatucloudfile/internal/quota"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
	"gorm.io/gorm"
)

// Reconciler sweeps storage ops left pending by a crash between the remote
// mutation and the local metadata write. Only records older than minAge are
// touched so in-flight operations are never raced.
type Reconciler struct {
	db       *gorm.DB
	remote   *remote.Manager
	quota    *quota.Accountant
	interval time.Duration
	minAge   time.Duration

	done chan struct{}
}

func NewReconciler(db *gorm.DB, manager *remote.Manager, accountant *quota.Accountant, interval, minAge time.Duration) *Reconciler {
	return &Reconciler{
		db:       db,
		remote:   manager,
		quota:    accountant,
		interval: interval,
		minAge:   minAge,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic sweep in the background.
func (r *Reconciler) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(context.Background())
			case <-r.done:
				return
			}
		}
	}()
	logger.Info("storage reconciler started", "interval", r.interval, "min_age", r.minAge)
}

// Shutdown stops the background sweep. A sweep already in progress runs to
// completion.
func (r *Reconciler) Shutdown() {
	close(r.done)
}

// Sweep resolves every sufficiently old pending op once.
func (r *Reconciler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.minAge)

	var ops []models.StorageOp
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.OpPending, cutoff).
		Order("id").
		Limit(100).
		Find(&ops).Error
	if err != nil {
		logger.Error("reconciler failed to list pending ops", "error", err)
		return
	}
	if len(ops) == 0 {
		return
	}

	backend, err := r.remote.Get(ctx)
	if err != nil {
		logger.Error("reconciler could not reach remote storage", "error", err)
		return
	}

	for _, op := range ops {
		outcome := r.resolve(ctx, backend, &op)
		if outcome == "" {
			continue // still unresolved, retry next sweep
		}
		metrics.ReconciledOpsTotal.WithLabelValues(op.Kind, outcome).Inc()
		if err := r.db.WithContext(ctx).Model(&op).Update("status", models.OpCommitted).Error; err != nil {
			logger.Error("reconciler failed to commit op", "op_id", op.ID, "error", err)
		}
	}
}

// resolve repairs one pending op and returns the outcome label, or "" if the
// op should stay pending for another attempt.
func (r *Reconciler) resolve(ctx context.Context, backend remote.Storage, op *models.StorageOp) string {
	switch op.Kind {
	case models.OpUpload:
		return r.resolveUpload(ctx, backend, op)
	case models.OpDelete:
		return r.resolveDelete(ctx, backend, op)
	case models.OpReplace:
		return r.resolveReplace(ctx, backend, op)
	default:
		logger.Warn("reconciler skipping op of unknown kind", "op_id", op.ID, "kind", op.Kind)
		return "skipped"
	}
}

// resolveUpload handles a crash after the remote upload but before the file
// row landed: if no row references the object, the object is an orphan and
// the reserved bytes were never claimed.
func (r *Reconciler) resolveUpload(ctx context.Context, backend remote.Storage, op *models.StorageOp) string {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.File{}).
		Where("remote_id = ?", op.RemoteID).
		Count(&count).Error; err != nil {
		logger.Error("reconciler failed to check file record", "op_id", op.ID, "error", err)
		return ""
	}
	if count > 0 {
		return "already_consistent"
	}

	if err := backend.Delete(ctx, op.RemoteID); err != nil {
		logger.Warn("reconciler failed to delete orphaned object", "op_id", op.ID, "remote_id", op.RemoteID, "error", err)
		return ""
	}
	if err := r.quota.Release(ctx, op.UserID, op.ByteSize); err != nil {
		logger.Error("reconciler failed to release quota", "op_id", op.ID, "error", err)
	}
	logger.Info("reconciler removed orphaned upload", "op_id", op.ID, "remote_id", op.RemoteID)
	return "orphan_removed"
}

// resolveDelete retries a delete whose remote call or local cleanup never
// finished. Remote delete is idempotent, so re-running it is safe.
func (r *Reconciler) resolveDelete(ctx context.Context, backend remote.Storage, op *models.StorageOp) string {
	if err := backend.Delete(ctx, op.RemoteID); err != nil {
		logger.Warn("reconciler failed to retry delete", "op_id", op.ID, "remote_id", op.RemoteID, "error", err)
		return ""
	}

	var file models.File
	err := r.db.WithContext(ctx).Where("remote_id = ?", op.RemoteID).First(&file).Error
	switch {
	case err == nil:
		if err := r.db.WithContext(ctx).Delete(&file).Error; err != nil {
			logger.Error("reconciler failed to delete file record", "op_id", op.ID, "error", err)
			return ""
		}
		if err := r.quota.Release(ctx, op.UserID, file.FileSize); err != nil {
			logger.Error("reconciler failed to release quota", "op_id", op.ID, "error", err)
		}
		return "delete_completed"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "already_consistent"
	default:
		logger.Error("reconciler failed to check file record", "op_id", op.ID, "error", err)
		return ""
	}
}

// resolveReplace checks whether a replace finished. If the row moved on to a
// new remote ID the operation completed; if it still points at an object
// that no longer exists, the content was lost mid-replace and the most this
// sweep can do is flag it.
func (r *Reconciler) resolveReplace(ctx context.Context, backend remote.Storage, op *models.StorageOp) string {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.File{}).
		Where("remote_id = ?", op.RemoteID).
		Count(&count).Error; err != nil {
		logger.Error("reconciler failed to check file record", "op_id", op.ID, "error", err)
		return ""
	}
	if count == 0 {
		// Row no longer references the old object; the replace landed.
		return "already_consistent"
	}

	if _, err := backend.Stat(ctx, op.RemoteID); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			logger.Error("file content lost mid-replace", "op_id", op.ID, "remote_id", op.RemoteID)
			return "content_lost"
		}
		logger.Warn("reconciler failed to stat object", "op_id", op.ID, "error", err)
		return ""
	}
	// Old object intact and still referenced: the replace never started.
	return "already_consistent"
}
