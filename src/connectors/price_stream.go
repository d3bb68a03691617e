package connectors

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// PriceStream subscribes to the Binance miniTicker stream and keeps the last
// price per symbol in memory. The scheduler can use it as a fresh-price
// source so ticks skip one REST round trip; callers fall back to REST when a
// symbol has no recent stream print.
type PriceStream struct {
	mu        sync.RWMutex
	prices    map[string]streamPrice
	symbols   []string
	streamURL string
	staleTTL  time.Duration
	now       func() time.Time
}

type streamPrice struct {
	price float64
	at    time.Time
}

func NewPriceStream(symbols []string) *PriceStream {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, strings.ToLower(s))
	}
	return &PriceStream{
		prices:    make(map[string]streamPrice),
		symbols:   normalized,
		streamURL: GetConfig().BinanceStreamURL,
		staleTTL:  10 * time.Second,
		now:       time.Now,
	}
}

// Get returns the last streamed price for symbol, or false when there is no
// print fresh enough to trade on.
func (s *PriceStream) Get(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(symbol)]
	if !ok || s.now().Sub(p.at) > s.staleTTL {
		return 0, false
	}
	return p.price, true
}

func (s *PriceStream) set(symbol string, price float64) {
	s.mu.Lock()
	s.prices[strings.ToUpper(symbol)] = streamPrice{price: price, at: s.now()}
	s.mu.Unlock()
}

// Run connects and consumes miniTicker events until ctx is cancelled,
// reconnecting with a short delay after any read or dial failure.
func (s *PriceStream) Run(ctx context.Context) {
	if len(s.symbols) == 0 {
		return
	}
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, sym+"@miniTicker")
	}
	endpoint := s.streamURL + "/stream?streams=" + strings.Join(streams, "/")

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consume(ctx, endpoint); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("price stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

type miniTickerEvent struct {
	Data struct {
		Symbol    string `json:"s"`
		LastPrice string `json:"c"`
	} `json:"data"`
}

func (s *PriceStream) consume(ctx context.Context, endpoint string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.WithField("symbols", len(s.symbols)).Info("price stream connected")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var event miniTickerEvent
		if err := json.Unmarshal(msg, &event); err != nil || event.Data.Symbol == "" {
			continue
		}
		price, err := parsePositiveFloat(event.Data.LastPrice)
		if err != nil {
			continue
		}
		s.set(event.Data.Symbol, price)
	}
}
