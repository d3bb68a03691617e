package gateway

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// DemoMode disables all live order placement. Every request is audited
	// as SKIPPED/DEMO_MODE without touching the network.
	DemoMode         bool    `envconfig:"DEMO_MODE" default:"false"`
	FeeBufferPercent float64 `envconfig:"FEE_BUFFER_PERCENT" default:"0.2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
