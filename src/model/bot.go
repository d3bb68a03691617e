package model

import "time"

// Bot status values. A bot is only ever ticked while running.
const (
	BotStatusRunning = "running"
	BotStatusPaused  = "paused"
	BotStatusStopped = "stopped"
)

// Market kinds. Only spot bots are executed by this runner.
const (
	MarketSpot    = "spot"
	MarketFutures = "futures"
)

// Tick outcome values recorded on release.
const (
	TickStatusOK      = "ok"
	TickStatusSkipped = "skipped"
	TickStatusBlocked = "blocked"
	TickStatusError   = "error"
	TickStatusStopped = "stopped"
)

// TPLevel is one rung of a take-profit ladder.
type TPLevel struct {
	Pct      float64 `json:"pct"`
	SharePct float64 `json:"share_pct"`
}

// Bot is one configured DCA grid strategy instance.
type Bot struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   uint   `gorm:"index" json:"user_id"`
	Name     string `gorm:"size:100" json:"name"`
	Exchange string `gorm:"size:20;not null" json:"exchange"`
	Market   string `gorm:"size:10;not null;default:spot" json:"market"`
	Pair     string `gorm:"size:20;not null" json:"pair"`
	Status   string `gorm:"size:20;not null;default:stopped;index" json:"status"`

	// Grid configuration
	BaseOrderUSDT         float64   `gorm:"column:base_order_usdt" json:"base_order_usdt"`
	GridStepPct           float64   `json:"grid_step_pct"`
	MaxSafetyOrders       int       `json:"max_safety_orders"`
	SafetyOrderMultiplier float64   `gorm:"default:1" json:"safety_order_multiplier"`
	MaxPositionCapPct     float64   `gorm:"default:100" json:"max_position_cap_pct"`
	TakeProfitPct         float64   `json:"take_profit_pct"`
	TPLadder              []TPLevel `gorm:"serializer:json" json:"tp_ladder,omitempty"`

	// Risk configuration
	DailyLossLimitPct  *float64 `json:"daily_loss_limit_pct,omitempty"`
	MaxDrawdownStopPct *float64 `json:"max_drawdown_stop_pct,omitempty"`
	CooldownMinutes    int      `json:"cooldown_minutes"`
	FlattenOnStop      bool     `json:"flatten_on_stop"`

	// Tick bookkeeping, mutated only by the scheduler
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
	NextTickAt     *time.Time `gorm:"index" json:"next_tick_at,omitempty"`
	LastTickStatus string     `gorm:"size:20" json:"last_tick_status,omitempty"`
	LastTickError  string     `gorm:"size:500" json:"last_tick_error,omitempty"`

	// Per-bot mutual exclusion
	IsLocked      bool       `gorm:"not null;default:false" json:"is_locked"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Bot) TableName() string {
	return "dca_bots"
}
