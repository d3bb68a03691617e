package model

import "time"

// BotOrder status lifecycle: submitted -> filled | cancelled, driven by
// reconciliation or an explicit cancel.
const (
	BotOrderStatusSubmitted = "submitted"
	BotOrderStatusFilled    = "filled"
	BotOrderStatusCancelled = "cancelled"
)

// Order sides and types as sent to the exchange.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// BotOrder records one order submission that reached the exchange.
type BotOrder struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	BotID           uint     `gorm:"index;not null" json:"bot_id"`
	Exchange        string   `gorm:"size:20;not null" json:"exchange"`
	Symbol          string   `gorm:"size:20;not null" json:"symbol"`
	Side            string   `gorm:"size:10;not null" json:"side"`
	Type            string   `gorm:"size:10;not null" json:"type"`
	Price           *float64 `json:"price,omitempty"`
	Qty             float64  `json:"qty"`
	ExchangeOrderID string   `gorm:"size:64;index" json:"exchange_order_id"`
	ClientOrderID   string   `gorm:"size:64;index" json:"client_order_id"`
	Status          string   `gorm:"size:20;not null;default:submitted" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BotOrder) TableName() string {
	return "dca_bot_orders"
}
