package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"dcarunner/src/database"
	"dcarunner/src/model"
)

// AuditRepository appends order execution audit rows. The table is
// append-only: there are no update or delete methods on purpose.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository() *AuditRepository {
	logger.WithField("component", "AuditRepository").
		Info("Creating new AuditRepository with MainDB")

	return &AuditRepository{
		db: database.MainDB,
	}
}

func (r *AuditRepository) WithDB(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, audit *model.ExecutionAudit) error {
	err := r.db.WithContext(ctx).Create(audit).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "AuditRepository",
			"op":     "Create",
			"status": audit.Status,
			"symbol": audit.Symbol,
		}).WithError(err).Error("Failed to create execution audit row")
	}
	return err
}

// FindByBotID returns a bot's audit trail, newest first.
func (r *AuditRepository) FindByBotID(ctx context.Context, botID uint, limit int) ([]model.ExecutionAudit, error) {
	if limit <= 0 {
		limit = 50
	}

	var audits []model.ExecutionAudit

	err := r.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("id DESC").
		Limit(limit).
		Find(&audits).Error

	if err != nil {
		return nil, err
	}

	return audits, nil
}
