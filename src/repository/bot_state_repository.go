package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dcarunner/src/database"
	"dcarunner/src/model"
)

// BotStateRepository persists the mutable trading memory of each bot.
type BotStateRepository struct {
	db *gorm.DB
}

func NewBotStateRepository() *BotStateRepository {
	logger.WithField("component", "BotStateRepository").
		Info("Creating new BotStateRepository with MainDB")

	return &BotStateRepository{
		db: database.MainDB,
	}
}

func (r *BotStateRepository) WithDB(db *gorm.DB) *BotStateRepository {
	return &BotStateRepository{db: db}
}

// GetByBotID returns the bot's state, or (nil, nil) when the bot has never
// opened a position.
func (r *BotStateRepository) GetByBotID(ctx context.Context, botID uint) (*model.BotState, error) {
	var state model.BotState

	err := r.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		First(&state).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":   "BotStateRepository",
			"op":     "GetByBotID",
			"bot_id": botID,
		}).WithError(err).Error("Failed to fetch bot state")

		return nil, err
	}

	return &state, nil
}

// Upsert creates the state row or updates all trading fields when the bot_id
// already exists.
func (r *BotStateRepository) Upsert(ctx context.Context, state *model.BotState) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bot_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"grid_level",
				"safety_orders_filled",
				"avg_entry_price",
				"position_size",
				"last_entry_order_id",
				"last_tp_order_id",
				"realized_pnl",
				"updated_at",
			}),
		}).
		Create(state).Error
}

// Save updates an existing state row in full, zero values included.
func (r *BotStateRepository) Save(ctx context.Context, state *model.BotState) error {
	return r.db.WithContext(ctx).Save(state).Error
}
