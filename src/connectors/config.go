package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceSpotBaseURL    string `envconfig:"BINANCE_SPOT_BASE_URL" default:"https://api.binance.com"`
	BinanceTestnetBaseURL string `envconfig:"BINANCE_TESTNET_BASE_URL" default:"https://testnet.binance.vision"`
	BybitBaseURL          string `envconfig:"BYBIT_BASE_URL" default:"https://api.bybit.com"`
	BybitTestnetBaseURL   string `envconfig:"BYBIT_TESTNET_BASE_URL" default:"https://api-testnet.bybit.com"`
	BinanceStreamURL      string `envconfig:"BINANCE_STREAM_URL" default:"wss://stream.binance.com:9443"`

	HTTPTimeout     time.Duration `envconfig:"EXCHANGE_HTTP_TIMEOUT" default:"10s"`
	RecvWindowMs    int64         `envconfig:"EXCHANGE_RECV_WINDOW_MS" default:"5000"`
	Retry429Max     int           `envconfig:"EXCHANGE_RETRY_429_MAX" default:"2"`
	Retry429MaxWait time.Duration `envconfig:"EXCHANGE_RETRY_429_MAX_WAIT" default:"60s"`
	FiltersCacheTTL time.Duration `envconfig:"SYMBOL_FILTERS_CACHE_TTL" default:"60s"`
	TimeOffsetTTL   time.Duration `envconfig:"EXCHANGE_TIME_OFFSET_TTL" default:"60s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
