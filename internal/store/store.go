package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradiehq/integrations/internal/models"
)

// ErrNotFound is returned when no row exists for the requested key.
var ErrNotFound = errors.New("store: not found")

// ConnectionStore is the persistence capability the credential manager depends
// on. Exchange, refresh, and disconnect all go through this interface rather
// than sharing table names.
type ConnectionStore interface {
	Get(ctx context.Context, userID string) (*models.Connection, error)
	Upsert(ctx context.Context, conn *models.Connection) error
	Delete(ctx context.Context, userID string) (bool, error)
}

// StateStore persists pending authorization attempts (CSRF state nonces).
type StateStore interface {
	Create(ctx context.Context, session *models.OAuthSession) error
	// Consume atomically looks up an unexpired state nonce belonging to userID
	// and deletes it. Returns ErrNotFound when the nonce is unknown, expired,
	// or bound to a different user.
	Consume(ctx context.Context, userID, state string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// GormStore implements ConnectionStore and StateStore on Postgres via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get loads the connection row for a user.
func (s *GormStore) Get(ctx context.Context, userID string) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return &conn, nil
}

// Upsert inserts or replaces the connection row keyed by user_id.
func (s *GormStore) Upsert(ctx context.Context, conn *models.Connection) error {
	now := time.Now().UTC()
	conn.UpdatedAt = now
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"encrypted_access_token",
			"encrypted_refresh_token",
			"expires_at",
			"updated_at",
		}),
	}).Create(conn).Error
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

// Delete removes the connection row and reports whether one existed.
func (s *GormStore) Delete(ctx context.Context, userID string) (bool, error) {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Connection{})
	if result.Error != nil {
		return false, fmt.Errorf("delete connection: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Create stores a pending authorization session.
func (s *GormStore) Create(ctx context.Context, session *models.OAuthSession) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("create oauth session: %w", err)
	}
	return nil
}

// Consume verifies and deletes a state nonce in one query so it can never be
// replayed.
func (s *GormStore) Consume(ctx context.Context, userID, state string) error {
	result := s.db.WithContext(ctx).
		Where("state = ? AND user_id = ? AND expires_at > ?", state, userID, time.Now()).
		Delete(&models.OAuthSession{})
	if result.Error != nil {
		return fmt.Errorf("consume oauth session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired deletes expired authorization sessions and returns the count.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.OAuthSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge oauth sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
