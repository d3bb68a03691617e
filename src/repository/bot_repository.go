package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"dcarunner/src/database"
	"dcarunner/src/model"
)

// BotRepository handles read/write operations for bots, including the
// tick-lock lifecycle.
type BotRepository struct {
	db *gorm.DB
}

func NewBotRepository() *BotRepository {
	logger.WithField("component", "BotRepository").
		Info("Creating new BotRepository with MainDB")

	return &BotRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *BotRepository) WithDB(db *gorm.DB) *BotRepository {
	return &BotRepository{db: db}
}

// FindByID fetches a single bot by its primary ID.
// Returns (nil, nil) if the bot is not found.
func (r *BotRepository) FindByID(ctx context.Context, id uint) (*model.Bot, error) {
	var bot model.Bot

	err := r.db.WithContext(ctx).First(&bot, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "BotRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch bot by ID")

		return nil, err
	}

	return &bot, nil
}

// FindDue returns running spot bots whose next_tick_at is unset or in the
// past, oldest first, capped at limit. Futures bots are never scheduled by
// this runner.
func (r *BotRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]model.Bot, error) {
	if limit <= 0 {
		limit = 10
	}

	var bots []model.Bot

	err := r.db.WithContext(ctx).
		Where("status = ?", model.BotStatusRunning).
		Where("market = ?", model.MarketSpot).
		Where("next_tick_at IS NULL OR next_tick_at <= ?", now).
		Order("next_tick_at ASC NULLS FIRST").
		Limit(limit).
		Find(&bots).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "BotRepository",
			"op":    "FindDue",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch due bots")

		return nil, err
	}

	return bots, nil
}

// AcquireLock atomically claims the tick lock for a bot. The conditional
// update only matches when the lock is free or its expiry has lapsed, so two
// runner instances can never both win; the caller holds the lock iff the
// returned bool is true.
func (r *BotRepository) AcquireLock(ctx context.Context, botID uint, now time.Time, ttl time.Duration) (bool, error) {
	expiresAt := now.Add(ttl)

	res := r.db.WithContext(ctx).
		Model(&model.Bot{}).
		Where("id = ?", botID).
		Where("is_locked = ? OR lock_expires_at IS NULL OR lock_expires_at < ?", false, now).
		Updates(map[string]interface{}{
			"is_locked":       true,
			"lock_expires_at": expiresAt,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "BotRepository",
			"op":     "AcquireLock",
			"bot_id": botID,
		}).WithError(res.Error).Error("Failed to acquire tick lock")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// ReleaseLock frees the tick lock and records the tick outcome and the next
// due time in the same update. A nil nextTickAt leaves the bot unscheduled,
// which is what terminal stops want.
func (r *BotRepository) ReleaseLock(
	ctx context.Context,
	botID uint,
	tickStatus string,
	tickError string,
	now time.Time,
	nextTickAt *time.Time,
) error {
	err := r.db.WithContext(ctx).
		Model(&model.Bot{}).
		Where("id = ?", botID).
		Updates(map[string]interface{}{
			"is_locked":        false,
			"lock_expires_at":  nil,
			"last_tick_at":     now,
			"last_tick_status": tickStatus,
			"last_tick_error":  tickError,
			"next_tick_at":     nextTickAt,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "BotRepository",
			"op":     "ReleaseLock",
			"bot_id": botID,
			"status": tickStatus,
		}).WithError(err).Error("Failed to release tick lock")
	}

	return err
}

// MarkPaused pauses a bot. Rescheduling after the cooldown is handled by the
// tick release that follows.
func (r *BotRepository) MarkPaused(ctx context.Context, botID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Bot{}).
		Where("id = ?", botID).
		Update("status", model.BotStatusPaused).Error
}

// DistinctRunningPairs lists the trading pairs of all running bots, used to
// seed the streamed price feed.
func (r *BotRepository) DistinctRunningPairs(ctx context.Context) ([]string, error) {
	var pairs []string

	err := r.db.WithContext(ctx).
		Model(&model.Bot{}).
		Where("status = ?", model.BotStatusRunning).
		Distinct("pair").
		Pluck("pair", &pairs).Error
	if err != nil {
		logger.WithField("repo", "BotRepository").WithError(err).
			Error("Failed to list running bot pairs")
		return nil, err
	}
	return pairs, nil
}

// CountByStatus groups all bots by status, for the runner status endpoint.
func (r *BotRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row

	err := r.db.WithContext(ctx).
		Model(&model.Bot{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		logger.WithField("repo", "BotRepository").WithError(err).
			Error("Failed to count bots by status")
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// MarkStopped terminally stops a bot. Stopped bots are never picked up again
// without operator action.
func (r *BotRepository) MarkStopped(ctx context.Context, botID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Bot{}).
		Where("id = ?", botID).
		Update("status", model.BotStatusStopped).Error
}
