package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/metrics"
	"gorm.io/gorm"
)

// ErrQuotaExceeded is returned before any remote call when the projected
// storage total would pass the plan's ceiling.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// ErrUserNotFound is returned when the user row is missing or suspended.
var ErrUserNotFound = errors.New("user not found")

// Accountant tracks cumulative storage usage against plan ceilings.
type Accountant struct {
	db *gorm.DB
}

func NewAccountant(db *gorm.DB) *Accountant {
	return &Accountant{db: db}
}

// Usage returns the user's current byte count and their plan's limit.
func (a *Accountant) Usage(ctx context.Context, userID uint) (used, limit int64, err error) {
	var user models.User
	if err := a.db.WithContext(ctx).Preload("Plan").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return user.StorageUsed, user.Plan.StorageLimit, nil
}

// WouldExceed reports whether adding additionalBytes would pass the plan
// ceiling. Display-only: mutations go through Reserve, which checks and
// increments in one statement.
func (a *Accountant) WouldExceed(ctx context.Context, userID uint, additionalBytes int64) (bool, error) {
	used, limit, err := a.Usage(ctx, userID)
	if err != nil {
		return false, err
	}
	return used+additionalBytes > limit, nil
}

// Reserve atomically increments the user's storage counter, but only when
// the projected total stays within the plan limit. A plain pre-check plus
// unconditional increment would let two concurrent uploads both pass and
// jointly exceed the ceiling; the conditional UPDATE closes that window.
func (a *Accountant) Reserve(ctx context.Context, userID uint, bytes int64) error {
	if bytes <= 0 {
		return nil
	}

	result := a.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND storage_used + ? <= (SELECT storage_limit FROM plans WHERE plans.id = users.plan_id)", userID, bytes).
		UpdateColumn("storage_used", gorm.Expr("storage_used + ?", bytes))
	if result.Error != nil {
		return fmt.Errorf("failed to reserve storage: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Distinguish a missing user from a full quota.
	var count int64
	if err := a.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check user %d: %w", userID, err)
	}
	if count == 0 {
		return ErrUserNotFound
	}

	metrics.QuotaRejectionsTotal.Inc()
	return ErrQuotaExceeded
}

// Release decrements the user's storage counter, flooring at zero so a
// previously inconsistent counter can never go negative.
func (a *Accountant) Release(ctx context.Context, userID uint, bytes int64) error {
	if bytes <= 0 {
		return nil
	}

	err := a.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("storage_used", gorm.Expr(
			"CASE WHEN storage_used > ? THEN storage_used - ? ELSE 0 END", bytes, bytes,
		)).Error
	if err != nil {
		return fmt.Errorf("failed to release storage: %w", err)
	}
	return nil
}
