package engine

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
)

// Config tunes the per-bot tick cadence and the thresholds the grid
// maintenance logic uses.
type Config struct {
	// TickIntervalSec is the default delay before a bot's next tick.
	TickIntervalSec int `envconfig:"TICK_INTERVAL_SEC" default:"15"`

	// TPReplaceThresholdPct is the relative price drift, in percent, beyond
	// which a resting take-profit is cancelled and re-placed.
	TPReplaceThresholdPct float64 `envconfig:"TP_REPLACE_THRESHOLD_PCT" default:"0.2"`
}

func GetConfig() Config {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		logger.WithError(err).Panic("Failed to load engine config")
	}
	return config
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}
