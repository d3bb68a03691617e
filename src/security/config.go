package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ExchangeCRKey is either a base64-encoded 32-byte key or a passphrase
	// that gets stretched with PBKDF2.
	ExchangeCRKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
