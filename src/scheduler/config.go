package scheduler

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
)

// Config tunes the polling loop that drives bot ticks.
type Config struct {
	// LoopPeriodSec is how often the scheduler scans for due bots.
	LoopPeriodSec int `envconfig:"SCHEDULER_LOOP_PERIOD_SEC" default:"15"`

	// BatchLimit caps how many due bots one scan picks up.
	BatchLimit int `envconfig:"SCHEDULER_BATCH_LIMIT" default:"10"`

	// LockTTLSec bounds how long a crashed runner can hold a bot lock.
	LockTTLSec int `envconfig:"BOT_LOCK_TTL_SEC" default:"60"`

	// StreamPrices enables the shared websocket ticker feed.
	StreamPrices bool `envconfig:"SCHEDULER_STREAM_PRICES" default:"false"`
}

func GetConfig() Config {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		logger.WithError(err).Panic("Failed to load scheduler config")
	}
	return config
}

func (c Config) LoopPeriod() time.Duration {
	return time.Duration(c.LoopPeriodSec) * time.Second
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}
