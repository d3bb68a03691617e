package model

import "time"

// Exchange environments for API routing.
const (
	EnvProduction = "production"
	EnvTestnet    = "testnet"
)

// ExchangeConnection holds a user's API credentials for one exchange.
// EncryptedConfig is an AES-GCM encrypted JSON blob {"api_key","api_secret"};
// it is decrypted per tick and never cached or logged.
type ExchangeConnection struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"uniqueIndex:idx_user_conn;not null" json:"user_id"`
	Exchange        string     `gorm:"size:20;uniqueIndex:idx_user_conn;not null" json:"exchange"`
	EncryptedConfig string     `gorm:"column:encrypted_config;type:text" json:"-"`
	Environment     string     `gorm:"size:20;not null;default:production" json:"environment"`
	LastTestStatus  *string    `gorm:"size:10" json:"last_test_status,omitempty"`
	DisabledAt      *time.Time `json:"disabled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExchangeConnection) TableName() string {
	return "user_exchange_connections"
}
