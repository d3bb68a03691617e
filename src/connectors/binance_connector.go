package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// BinanceSpotConnector talks to the Binance spot REST API. Signed endpoints
// use HMAC-SHA256 over the query string with a drift-corrected timestamp.
type BinanceSpotConnector struct {
	apiKey       string
	apiSecret    string
	baseURL      string
	recvWindowMs int64
	http         *resty.Client
	timeSync     *TimeSync
	filters      *FiltersCache
	retryMax     int
	retryMaxWait time.Duration
	sleep        func(time.Duration)
}

func NewBinanceSpotConnector(creds BinanceCredentials) *BinanceSpotConnector {
	cfg := GetConfig()
	baseURL := cfg.BinanceSpotBaseURL
	if creds.Testnet {
		baseURL = cfg.BinanceTestnetBaseURL
	}
	return &BinanceSpotConnector{
		apiKey:       creds.APIKey,
		apiSecret:    creds.APISecret,
		baseURL:      baseURL,
		recvWindowMs: cfg.RecvWindowMs,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(cfg.HTTPTimeout),
		timeSync:     sharedTimeSync(baseURL),
		filters:      sharedFiltersCache(),
		retryMax:     cfg.Retry429Max,
		retryMaxWait: cfg.Retry429MaxWait,
		sleep:        time.Sleep,
	}
}

// WithCaches overrides the shared caches, for tests that need isolation.
func (c *BinanceSpotConnector) WithCaches(ts *TimeSync, fc *FiltersCache) *BinanceSpotConnector {
	c.timeSync = ts
	c.filters = fc
	return c
}

func (c *BinanceSpotConnector) Exchange() string { return ExchangeBinance }

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *BinanceSpotConnector) serverTime(ctx context.Context) (int64, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/api/v3/time")
	if err != nil {
		return 0, err
	}
	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, err
	}
	return body.ServerTime, nil
}

func (c *BinanceSpotConnector) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// doSigned executes a signed request, retrying once on a timestamp rejection
// after invalidating the offset cache, and retrying up to retryMax extra
// times on 429 honoring any Retry-After hint.
func (c *BinanceSpotConnector) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	timestampRetried := false
	attempt := 0
	for {
		body, retryAfter, err := c.doSignedOnce(ctx, method, path, params)
		if err == nil {
			return body, nil
		}
		if IsTimestampError(err) && !timestampRetried {
			timestampRetried = true
			c.timeSync.Invalidate()
			logger.WithField("path", path).Warn("timestamp rejected, re-syncing clock and retrying")
			continue
		}
		if ReasonOf(err) == ReasonRateLimit && attempt < c.retryMax {
			attempt++
			wait := retryAfter
			if wait <= 0 {
				wait = time.Duration(attempt) * time.Second
			}
			if wait > c.retryMaxWait {
				wait = c.retryMaxWait
			}
			logger.WithFields(map[string]interface{}{
				"path":    path,
				"attempt": attempt,
				"wait":    wait,
			}).Warn("rate limited, backing off")
			c.sleep(wait)
			continue
		}
		return nil, err
	}
}

func (c *BinanceSpotConnector) doSignedOnce(ctx context.Context, method, path string, params url.Values) ([]byte, time.Duration, error) {
	signed := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			signed.Add(k, v)
		}
	}
	ts := c.timeSync.Timestamp(ctx, c.serverTime)
	signed.Set("timestamp", strconv.FormatInt(ts, 10))
	signed.Set("recvWindow", strconv.FormatInt(c.recvWindowMs, 10))
	query := signed.Encode()
	query += "&signature=" + c.sign(query)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query).
		Execute(method, path)
	if err != nil {
		return nil, 0, fmt.Errorf("binance request failed: %w", err)
	}
	if apiErr := c.classify(resp); apiErr != nil {
		return nil, parseRetryAfter(resp.Header().Get("Retry-After")), apiErr
	}
	return resp.Body(), 0, nil
}

func (c *BinanceSpotConnector) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	attempt := 0
	for {
		req := c.http.R().SetContext(ctx)
		if len(params) > 0 {
			req.SetQueryString(params.Encode())
		}
		resp, err := req.Get(path)
		if err != nil {
			return nil, fmt.Errorf("binance request failed: %w", err)
		}
		apiErr := c.classify(resp)
		if apiErr == nil {
			return resp.Body(), nil
		}
		if ReasonOf(apiErr) == ReasonRateLimit && attempt < c.retryMax {
			attempt++
			wait := parseRetryAfter(resp.Header().Get("Retry-After"))
			if wait <= 0 {
				wait = time.Duration(attempt) * time.Second
			}
			if wait > c.retryMaxWait {
				wait = c.retryMaxWait
			}
			c.sleep(wait)
			continue
		}
		return nil, apiErr
	}
}

func (c *BinanceSpotConnector) classify(resp *resty.Response) *APIError {
	if resp.StatusCode() < 400 {
		return nil
	}
	var venue binanceAPIError
	_ = json.Unmarshal(resp.Body(), &venue)
	reason := ""
	if venue.Code != 0 {
		reason = classifyBinanceCode(venue.Code, venue.Msg)
	}
	if reason == "" || reason == ReasonExchangeError {
		if statusReason, ok := classifyHTTPStatus(resp.StatusCode()); ok {
			reason = statusReason
		}
	}
	if reason == "" {
		reason = ReasonExchangeError
	}
	msg := venue.Msg
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode())
	}
	return &APIError{
		Reason:     reason,
		HTTPStatus: resp.StatusCode(),
		VenueCode:  venue.Code,
		Message:    Redact(msg),
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *BinanceSpotConnector) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, &APIError{Reason: ReasonTickerFailed, Message: Redact(err.Error())}
	}
	var out struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, &APIError{Reason: ReasonTickerFailed, Message: "malformed ticker response"}
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil || price <= 0 {
		return 0, &APIError{Reason: ReasonTickerFailed, Message: fmt.Sprintf("invalid price for %s", symbol)}
	}
	return price, nil
}

func (c *BinanceSpotConnector) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	if cached, ok := c.filters.Get(ExchangeBinance, symbol); ok {
		return cached, nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return nil, err
	}
	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("malformed exchangeInfo response: %w", err)
	}
	if len(info.Symbols) == 0 {
		return nil, &APIError{Reason: ReasonExchangeError, Message: fmt.Sprintf("symbol %s not found", symbol)}
	}
	filters := &SymbolFilters{Symbol: symbol}
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			filters.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			filters.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
		case "PRICE_FILTER":
			filters.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
		case "MIN_NOTIONAL", "NOTIONAL":
			filters.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
		}
	}
	c.filters.Put(ExchangeBinance, symbol, filters)
	return filters, nil
}

func (c *BinanceSpotConnector) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	body, err := c.doSigned(ctx, "GET", "/api/v3/account", url.Values{})
	if err != nil {
		return nil, &APIError{Reason: ReasonBalanceFetchFailed, Message: Redact(err.Error())}
	}
	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, &APIError{Reason: ReasonBalanceFetchFailed, Message: "malformed account response"}
	}
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, asset) {
			free, _ := strconv.ParseFloat(b.Free, 64)
			locked, _ := strconv.ParseFloat(b.Locked, 64)
			return &Balance{Asset: b.Asset, Free: free, Locked: locked}, nil
		}
	}
	return &Balance{Asset: asset}, nil
}

func (c *BinanceSpotConnector) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	params.Set("side", p.Side)
	params.Set("type", p.Type)
	params.Set("quantity", strconv.FormatFloat(p.Quantity, 'f', -1, 64))
	if p.ClientOrderID != "" {
		params.Set("newClientOrderId", p.ClientOrderID)
	}
	if p.Type == "LIMIT" {
		params.Set("price", strconv.FormatFloat(p.Price, 'f', -1, 64))
		params.Set("timeInForce", "GTC")
	}
	body, err := c.doSigned(ctx, "POST", "/api/v3/order", params)
	if err != nil {
		return nil, err
	}
	var ack struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("malformed order response: %w", err)
	}
	if ack.OrderID == 0 {
		return nil, &APIError{Reason: ReasonNoOrderID, Message: "order accepted but no order id returned"}
	}
	return &OrderAck{
		OrderID:       strconv.FormatInt(ack.OrderID, 10),
		ClientOrderID: ack.ClientOrderID,
		Status:        normalizeBinanceStatus(ack.Status),
		RawResponse:   string(body),
	}, nil
}

func (c *BinanceSpotConnector) GetOrder(ctx context.Context, symbol, orderID string) (*OrderQuery, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.doSigned(ctx, "GET", "/api/v3/order", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		OrderID             int64  `json:"orderId"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Side                string `json:"side"`
		Type                string `json:"type"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("malformed order query response: %w", err)
	}
	executed, _ := strconv.ParseFloat(out.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(out.CummulativeQuoteQty, 64)
	avg := 0.0
	if executed > 0 {
		avg = quote / executed
	}
	return &OrderQuery{
		OrderID:     strconv.FormatInt(out.OrderID, 10),
		Status:      normalizeBinanceStatus(out.Status),
		ExecutedQty: executed,
		AvgPrice:    avg,
		Side:        out.Side,
		Type:        out.Type,
	}, nil
}

func (c *BinanceSpotConnector) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, "DELETE", "/api/v3/order", params)
	return err
}

func (c *BinanceSpotConnector) ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, "GET", "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		OrderID int64  `json:"orderId"`
		Symbol  string `json:"symbol"`
		Side    string `json:"side"`
		Type    string `json:"type"`
		Price   string `json:"price"`
		OrigQty string `json:"origQty"`
		Status  string `json:"status"`
		Time    int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed open orders response: %w", err)
	}
	orders := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQty, 64)
		orders = append(orders, OpenOrder{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			Symbol:    o.Symbol,
			Side:      o.Side,
			Type:      o.Type,
			Price:     price,
			OrigQty:   qty,
			Status:    normalizeBinanceStatus(o.Status),
			CreatedAt: o.Time,
		})
	}
	return orders, nil
}

// TestConnection verifies the key can read the account without placing any
// order.
func (c *BinanceSpotConnector) TestConnection(ctx context.Context) error {
	_, err := c.doSigned(ctx, "GET", "/api/v3/account", url.Values{})
	return err
}

func normalizeBinanceStatus(status string) string {
	switch status {
	case "NEW":
		return OrderStatusNew
	case "PARTIALLY_FILLED":
		return OrderStatusPartiallyFilled
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH", "PENDING_CANCEL":
		return OrderStatusCancelled
	case "REJECTED":
		return OrderStatusRejected
	default:
		return status
	}
}
