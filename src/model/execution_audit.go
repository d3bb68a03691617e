package model

import "time"

// Audit statuses. PLACED always carries an exchange order id; SKIPPED means a
// pre-flight or policy check stopped the order before any placement call;
// FAILED means the venue or network rejected an actual attempt.
const (
	AuditStatusPlaced  = "PLACED"
	AuditStatusSkipped = "SKIPPED"
	AuditStatusFailed  = "FAILED"
)

// ExecutionAudit is the append-only log of every order placement attempt that
// went through the gateway. Exactly one row per ExecuteOrder call; never
// mutated or deleted.
type ExecutionAudit struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	RequestID  string `gorm:"size:36;index" json:"request_id"`
	UserID     uint   `gorm:"index" json:"user_id"`
	Source     string `gorm:"size:20;not null" json:"source"`
	BotID      *uint  `gorm:"index" json:"bot_id,omitempty"`
	Exchange   string `gorm:"size:20;not null" json:"exchange"`
	MarketType string `gorm:"size:10;not null" json:"market_type"`
	Symbol     string `gorm:"size:20;not null" json:"symbol"`
	Side       string `gorm:"size:10;not null" json:"side"`
	OrderType  string `gorm:"size:10;not null" json:"order_type"`

	RequestedQty   *float64 `json:"requested_qty,omitempty"`
	RequestedQuote *float64 `json:"requested_quote,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	Leverage       *int     `json:"leverage,omitempty"`

	MinNotional      *float64 `json:"min_notional,omitempty"`
	AvailableBalance *float64 `json:"available_balance,omitempty"`
	RequiredBalance  *float64 `json:"required_balance,omitempty"`

	// JSON snapshots, redacted before persisting
	PrecheckResult   string `gorm:"type:text" json:"precheck_result,omitempty"`
	ExchangeRequest  string `gorm:"type:text" json:"exchange_request,omitempty"`
	ExchangeResponse string `gorm:"type:text" json:"exchange_response,omitempty"`

	ExchangeOrderID string `gorm:"size:64" json:"exchange_order_id,omitempty"`
	Status          string `gorm:"size:10;not null" json:"status"`
	ErrorCode       string `gorm:"size:40" json:"error_code,omitempty"`
	ErrorMessage    string `gorm:"size:1000" json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ExecutionAudit) TableName() string {
	return "order_execution_audit"
}
