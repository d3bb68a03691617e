package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Exchange identifiers as stored on bots and connections.
const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"
)

// SymbolFilters holds the venue trading rules for one spot symbol.
type SymbolFilters struct {
	Symbol      string
	StepSize    float64
	TickSize    float64
	MinQty      float64
	MinNotional float64
}

// PlaceOrderParams describes a spot order to submit. Quantity is always in
// base units. Price is ignored for market orders.
type PlaceOrderParams struct {
	Symbol        string
	Side          string // BUY / SELL
	Type          string // MARKET / LIMIT
	Quantity      float64
	Price         float64
	ClientOrderID string
}

// OrderAck is the venue acknowledgement for a freshly placed order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        string
	RawResponse   string
}

// Order status values normalized across venues.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
)

// OrderQuery is the lookup result for a single existing order.
type OrderQuery struct {
	OrderID     string
	Status      string
	ExecutedQty float64
	AvgPrice    float64
	Side        string
	Type        string
}

// OpenOrder is one resting order returned by the open-orders listing.
type OpenOrder struct {
	OrderID   string
	Symbol    string
	Side      string
	Type      string
	Price     float64
	OrigQty   float64
	Status    string
	CreatedAt int64
}

// Balance is the free and locked amount of a single asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// SpotConnector is the venue-neutral surface the engine and gateway talk to.
// Implementations correct for clock drift, retry 429s, and translate venue
// errors into the portable taxonomy before returning them.
type SpotConnector interface {
	Exchange() string
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)
	GetBalance(ctx context.Context, asset string) (*Balance, error)
	PlaceOrder(ctx context.Context, params PlaceOrderParams) (*OrderAck, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*OrderQuery, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	TestConnection(ctx context.Context) error
}

// Credentials is a closed set of per-venue API key holders. Each variant
// knows how to build its own connector, so nothing downstream ever inspects
// key fields by guessing.
type Credentials interface {
	Exchange() string
	Connector() SpotConnector
}

type BinanceCredentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

func (c BinanceCredentials) Exchange() string { return ExchangeBinance }

func (c BinanceCredentials) Connector() SpotConnector { return NewBinanceSpotConnector(c) }

type BybitCredentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

func (c BybitCredentials) Exchange() string { return ExchangeBybit }

func (c BybitCredentials) Connector() SpotConnector { return NewBybitSpotConnector(c) }

// credentialBlob is the decrypted JSON shape stored on an exchange
// connection. It exists only at this decode boundary.
type credentialBlob struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// DecodeCredentials turns a decrypted connection blob into the typed variant
// for its exchange. environment selects testnet routing.
func DecodeCredentials(exchange, environment string, plaintext []byte) (Credentials, error) {
	var blob credentialBlob
	if err := json.Unmarshal(plaintext, &blob); err != nil {
		return nil, fmt.Errorf("malformed credential payload: %w", err)
	}
	if blob.APIKey == "" || blob.APISecret == "" {
		return nil, fmt.Errorf("credential payload missing api key or secret")
	}
	testnet := strings.EqualFold(environment, "testnet")
	switch strings.ToLower(exchange) {
	case ExchangeBinance:
		return BinanceCredentials{APIKey: blob.APIKey, APISecret: blob.APISecret, Testnet: testnet}, nil
	case ExchangeBybit:
		return BybitCredentials{APIKey: blob.APIKey, APISecret: blob.APISecret, Testnet: testnet}, nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchange)
	}
}
