package scheduler

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"dcarunner/src/engine"
	"dcarunner/src/model"
	"dcarunner/src/repository"
)

// BotQueue is the slice of the bot repository the scheduler needs: finding
// due bots and fencing each tick with the per-bot lock.
type BotQueue interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.Bot, error)
	FindByID(ctx context.Context, id uint) (*model.Bot, error)
	AcquireLock(ctx context.Context, botID uint, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, botID uint, tickStatus, tickError string, now time.Time, nextTickAt *time.Time) error
}

// Ticker runs one full tick for a locked bot.
type Ticker interface {
	Tick(ctx context.Context, bot *model.Bot, now time.Time) engine.TickResult
}

// Scheduler polls for due bots and runs each one under its DB lock. Several
// runner processes can share the same database; the conditional lock update
// guarantees at most one of them ticks a given bot at a time.
type Scheduler struct {
	bots   BotQueue
	engine Ticker
	config Config
	now    func() time.Time
}

func NewScheduler(eng Ticker) *Scheduler {
	return &Scheduler{
		bots:   repository.NewBotRepository(),
		engine: eng,
		config: GetConfig(),
		now:    time.Now,
	}
}

// WithDeps overrides collaborators, for tests.
func (s *Scheduler) WithDeps(bots BotQueue, eng Ticker, config Config, now func() time.Time) *Scheduler {
	return &Scheduler{bots: bots, engine: eng, config: config, now: now}
}

// Run drives the scan loop until the context is cancelled. The first scan
// happens immediately so a restart does not wait a full period.
func (s *Scheduler) Run(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"loop_period": s.config.LoopPeriod().String(),
		"batch_limit": s.config.BatchLimit,
		"lock_ttl":    s.config.LockTTL().String(),
	}).Info("Scheduler started")

	ticker := time.NewTicker(s.config.LoopPeriod())
	defer ticker.Stop()

	s.ProcessDueBots(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.ProcessDueBots(ctx)
		}
	}
}

// ProcessDueBots runs one scan: fetch due bots and tick each one that we can
// lock. Bots whose lock is held elsewhere are skipped until the next scan.
func (s *Scheduler) ProcessDueBots(ctx context.Context) {
	now := s.now()

	due, err := s.bots.FindDue(ctx, now, s.config.BatchLimit)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch due bots")
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		s.processBot(ctx, &due[i])
	}
}

func (s *Scheduler) processBot(ctx context.Context, bot *model.Bot) {
	now := s.now()

	acquired, err := s.bots.AcquireLock(ctx, bot.ID, now, s.config.LockTTL())
	if err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).Error("Failed to acquire bot lock")
		return
	}
	if !acquired {
		logger.WithField("bot_id", bot.ID).Debug("Bot lock held elsewhere, skipping")
		return
	}

	// The due scan can be stale by the time the lock is won: reload the bot
	// and skip it if it was stopped, paused or deleted in the meantime. The
	// fresh row also picks up config edits made since the scan.
	fresh, err := s.bots.FindByID(ctx, bot.ID)
	if err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).Error("Failed to reload bot after locking")
		next := now.Add(s.config.LoopPeriod())
		s.release(ctx, bot.ID, model.TickStatusError, "could not reload bot", &next)
		return
	}
	if fresh == nil || fresh.Status != model.BotStatusRunning {
		s.release(ctx, bot.ID, model.TickStatusSkipped, "bot no longer runnable", nil)
		return
	}
	bot = fresh

	// The lock is released on every path, including a panicking tick.
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"bot_id": bot.ID,
				"panic":  r,
			}).Error("Tick panicked")
			next := s.now().Add(s.config.LoopPeriod())
			s.release(ctx, bot.ID, model.TickStatusError, fmt.Sprintf("tick panicked: %v", r), &next)
		}
	}()

	result := s.engine.Tick(ctx, bot, now)
	s.release(ctx, bot.ID, result.Status, result.Reason, result.NextTickAt)
}

func (s *Scheduler) release(ctx context.Context, botID uint, status, reason string, nextTickAt *time.Time) {
	if err := s.bots.ReleaseLock(ctx, botID, status, reason, s.now(), nextTickAt); err != nil {
		logger.WithFields(map[string]interface{}{
			"bot_id": botID,
			"status": status,
		}).WithError(err).Error("Failed to release bot lock")
	}
}
