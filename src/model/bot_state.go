package model

import "time"

// BotState is the mutable trading memory of a bot, created on the first base
// order and kept for the lifetime of the bot.
type BotState struct {
	ID                 uint     `gorm:"primaryKey" json:"id"`
	BotID              uint     `gorm:"uniqueIndex;not null" json:"bot_id"`
	GridLevel          int      `json:"grid_level"`
	SafetyOrdersFilled int      `json:"safety_orders_filled"`
	AvgEntryPrice      *float64 `json:"avg_entry_price,omitempty"`
	PositionSize       float64  `gorm:"not null;default:0" json:"position_size"`
	LastEntryOrderID   string   `gorm:"size:64" json:"last_entry_order_id,omitempty"`
	LastTPOrderID      string   `gorm:"size:64" json:"last_tp_order_id,omitempty"`
	RealizedPnl        float64  `gorm:"not null;default:0" json:"realized_pnl"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BotState) TableName() string {
	return "dca_bot_states"
}
