package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dcarunner/src/database"
	"dcarunner/src/model"
)

// ConnectionRepository stores user exchange connections holding encrypted
// API credentials.
type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository() *ConnectionRepository {
	logger.WithField("component", "ConnectionRepository").
		Info("Creating new ConnectionRepository with MainDB")

	return &ConnectionRepository{
		db: database.MainDB,
	}
}

func (r *ConnectionRepository) WithDB(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// GetActive returns the user's enabled connection for an exchange, or
// (nil, nil) when none exists, the connection is disabled, or its last
// credential test failed.
func (r *ConnectionRepository) GetActive(ctx context.Context, userID uint, exchange string) (*model.ExchangeConnection, error) {
	var conn model.ExchangeConnection

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange = ? AND disabled_at IS NULL", userID, exchange).
		Where("last_test_status IS NULL OR last_test_status <> ?", "fail").
		First(&conn).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":     "ConnectionRepository",
			"op":       "GetActive",
			"user_id":  userID,
			"exchange": exchange,
		}).WithError(err).Error("Failed to fetch exchange connection")

		return nil, err
	}

	return &conn, nil
}

// Upsert creates the connection or replaces the encrypted credentials when
// the (user_id, exchange) pair already exists.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *model.ExchangeConnection) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "exchange"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"encrypted_config",
				"environment",
				"disabled_at",
				"updated_at",
			}),
		}).
		Create(conn).Error
}

// Disable soft-deletes a connection; ticks stop using it immediately.
func (r *ConnectionRepository) Disable(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.ExchangeConnection{}).
		Where("id = ?", id).
		Update("disabled_at", time.Now()).Error
}

// UpdateTestStatus records the outcome of the last connection test.
func (r *ConnectionRepository) UpdateTestStatus(ctx context.Context, id uint, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.ExchangeConnection{}).
		Where("id = ?", id).
		Update("last_test_status", status).Error
}
