package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"dcarunner/src/database"
	"dcarunner/src/model"
)

// BotOrderRepository tracks the orders a bot has submitted to the exchange.
type BotOrderRepository struct {
	db *gorm.DB
}

func NewBotOrderRepository() *BotOrderRepository {
	logger.WithField("component", "BotOrderRepository").
		Info("Creating new BotOrderRepository with MainDB")

	return &BotOrderRepository{
		db: database.MainDB,
	}
}

func (r *BotOrderRepository) WithDB(db *gorm.DB) *BotOrderRepository {
	return &BotOrderRepository{db: db}
}

func (r *BotOrderRepository) Create(ctx context.Context, order *model.BotOrder) error {
	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "BotOrderRepository",
			"op":     "Create",
			"bot_id": order.BotID,
			"side":   order.Side,
		}).WithError(err).Error("Failed to create bot order")
	}
	return err
}

// FindSubmittedByBotID returns the orders the bot believes are still resting
// on the exchange, oldest first.
func (r *BotOrderRepository) FindSubmittedByBotID(ctx context.Context, botID uint) ([]model.BotOrder, error) {
	var orders []model.BotOrder

	err := r.db.WithContext(ctx).
		Where("bot_id = ? AND status = ?", botID, model.BotOrderStatusSubmitted).
		Order("id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "BotOrderRepository",
			"op":     "FindSubmittedByBotID",
			"bot_id": botID,
		}).WithError(err).Error("Failed to fetch submitted orders")

		return nil, err
	}

	return orders, nil
}

// UpdateStatus moves one order to a terminal status by its exchange order id.
func (r *BotOrderRepository) UpdateStatus(ctx context.Context, botID uint, exchangeOrderID, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.BotOrder{}).
		Where("bot_id = ? AND exchange_order_id = ?", botID, exchangeOrderID).
		Update("status", status).Error
}
