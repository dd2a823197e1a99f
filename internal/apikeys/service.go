package apikeys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	"github.com/pedro17pedroo/tatucloudfile/internal/metrics"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidKey covers every authentication failure: malformed token,
// unknown prefix, hash mismatch, inactive key, suspended owner. Callers get
// no more detail than that.
var ErrInvalidKey = errors.New("invalid API key")

// ErrKeyExpired is returned for trial keys past their expiry, even when the
// key is still marked active.
var ErrKeyExpired = errors.New("API key trial has expired")

const (
	tokenScheme  = "tcf"
	prefixLength = 8  // hex chars embedded in the token for O(1) lookup
	secretLength = 32 // random bytes behind the bcrypt hash
)

// Service issues and verifies API keys. Only a bcrypt hash of the secret is
// persisted; the plaintext lives in an in-memory cache for a bounded window
// after issuance.
type Service struct {
	db            *gorm.DB
	cache         *plaintextCache
	trialDuration time.Duration
	bcryptCost    int
}

func NewService(db *gorm.DB, plaintextTTL, trialDuration time.Duration, bcryptCost int) *Service {
	return &Service{
		db:            db,
		cache:         newPlaintextCache(plaintextTTL),
		trialDuration: trialDuration,
		bcryptCost:    bcryptCost,
	}
}

func randomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// Generate issues a new key for the user and returns the record together
// with the one-time plaintext token ("tcf_<prefix>_<secret>").
func (s *Service) Generate(ctx context.Context, userID uint, name string, isTrial bool) (*models.APIKey, string, error) {
	prefix, err := randomHex(prefixLength / 2)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key prefix: %w", err)
	}
	secret, err := randomHex(secretLength)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash key secret: %w", err)
	}

	key := models.APIKey{
		UserID:    userID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: prefix,
		IsActive:  true,
		IsTrial:   isTrial,
	}
	if isTrial {
		expires := time.Now().Add(s.trialDuration)
		key.TrialExpiresAt = &expires
	}

	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, "", fmt.Errorf("failed to persist API key: %w", err)
	}

	token := fmt.Sprintf("%s_%s_%s", tokenScheme, prefix, secret)
	s.cache.put(key.ID, userID, token)

	return &key, token, nil
}

// Reveal returns the plaintext token while it is still inside the
// time-boxed cache window. Scoped to the owning user.
func (s *Service) Reveal(keyID, userID uint) (string, bool) {
	return s.cache.get(keyID, userID)
}

// parseToken splits "tcf_<prefix>_<secret>" into its parts.
func parseToken(token string) (prefix, secret string, err error) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != tokenScheme || parts[1] == "" || parts[2] == "" {
		return "", "", ErrInvalidKey
	}
	return parts[1], parts[2], nil
}

// Authenticate resolves the acting user for a presented bearer token.
// Lookup is by the prefix embedded in the token, so verification costs one
// bcrypt comparison instead of a scan over every active key. A key is
// accepted iff its stored hash verifies, it is active, and — for trial
// keys — the trial window has not passed.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, *models.APIKey, error) {
	prefix, secret, err := parseToken(token)
	if err != nil {
		metrics.RecordAPIKeyAuth(false)
		return nil, nil, err
	}

	var key models.APIKey
	if err := s.db.WithContext(ctx).Where("key_prefix = ? AND is_active = ?", prefix, true).First(&key).Error; err != nil {
		metrics.RecordAPIKeyAuth(false)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidKey
		}
		return nil, nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)) != nil {
		metrics.RecordAPIKeyAuth(false)
		return nil, nil, ErrInvalidKey
	}

	if key.IsTrial && key.TrialExpiresAt != nil && time.Now().After(*key.TrialExpiresAt) {
		metrics.RecordAPIKeyAuth(false)
		return nil, nil, ErrKeyExpired
	}

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Plan").First(&user, key.UserID).Error; err != nil {
		metrics.RecordAPIKeyAuth(false)
		return nil, nil, ErrInvalidKey
	}
	if user.IsSuspended {
		metrics.RecordAPIKeyAuth(false)
		return nil, nil, ErrInvalidKey
	}

	// Last-used stamp is fire-and-forget; downstream processing never
	// waits on it.
	go func(keyID uint) {
		now := time.Now()
		if err := s.db.Model(&models.APIKey{}).Where("id = ?", keyID).
			Update("last_used_at", now).Error; err != nil {
			logger.Warn("failed to update API key last_used_at", "key_id", keyID, "error", err)
		}
	}(key.ID)

	metrics.RecordAPIKeyAuth(true)
	return &user, &key, nil
}

// List returns the user's keys, newest first. Hashes never leave the model's
// json:"-" field.
func (s *Service) List(ctx context.Context, userID uint) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}

// Revoke deactivates a key. The row is kept for audit; only IsActive flips.
func (s *Service) Revoke(ctx context.Context, keyID, userID uint) error {
	result := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidKey
	}
	s.cache.remove(keyID, userID)
	return nil
}
