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
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// BybitSpotConnector talks to the Bybit v5 REST API, spot category only.
// Signature is HMAC-SHA256 over timestamp + apiKey + recvWindow + payload,
// where payload is the query string for GETs and the JSON body for POSTs.
type BybitSpotConnector struct {
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

func NewBybitSpotConnector(creds BybitCredentials) *BybitSpotConnector {
	cfg := GetConfig()
	baseURL := cfg.BybitBaseURL
	if creds.Testnet {
		baseURL = cfg.BybitTestnetBaseURL
	}
	return &BybitSpotConnector{
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
func (c *BybitSpotConnector) WithCaches(ts *TimeSync, fc *FiltersCache) *BybitSpotConnector {
	c.timeSync = ts
	c.filters = fc
	return c
}

func (c *BybitSpotConnector) Exchange() string { return ExchangeBybit }

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *BybitSpotConnector) serverTime(ctx context.Context) (int64, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/v5/market/time")
	if err != nil {
		return 0, err
	}
	var env bybitEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return 0, err
	}
	var result struct {
		TimeNano string `json:"timeNano"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, err
	}
	nanos, err := strconv.ParseInt(result.TimeNano, 10, 64)
	if err != nil {
		return 0, err
	}
	return nanos / int64(time.Millisecond), nil
}

func (c *BybitSpotConnector) sign(timestamp int64, payload string) string {
	prehash := strconv.FormatInt(timestamp, 10) + c.apiKey + strconv.FormatInt(c.recvWindowMs, 10) + payload
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(prehash))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BybitSpotConnector) doSigned(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	timestampRetried := false
	attempt := 0
	for {
		result, retryAfter, err := c.doSignedOnce(ctx, method, path, query, body)
		if err == nil {
			return result, nil
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

func (c *BybitSpotConnector) doSignedOnce(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, time.Duration, error) {
	ts := c.timeSync.Timestamp(ctx, c.serverTime)

	payload := ""
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		payload = string(bodyBytes)
	} else if len(query) > 0 {
		payload = query.Encode()
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10)).
		SetHeader("X-BAPI-RECV-WINDOW", strconv.FormatInt(c.recvWindowMs, 10)).
		SetHeader("X-BAPI-SIGN", c.sign(ts, payload))
	if bodyBytes != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(bodyBytes)
	} else if len(query) > 0 {
		req.SetQueryString(query.Encode())
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, 0, fmt.Errorf("bybit request failed: %w", err)
	}
	if statusReason, ok := classifyHTTPStatus(resp.StatusCode()); ok {
		return nil, parseRetryAfter(resp.Header().Get("Retry-After")), &APIError{
			Reason:     statusReason,
			HTTPStatus: resp.StatusCode(),
			Message:    fmt.Sprintf("HTTP %d", resp.StatusCode()),
		}
	}
	var env bybitEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, 0, fmt.Errorf("malformed bybit response: %w", err)
	}
	if env.RetCode != 0 {
		return nil, 0, &APIError{
			Reason:     classifyBybitRetCode(env.RetCode, env.RetMsg),
			HTTPStatus: resp.StatusCode(),
			VenueCode:  env.RetCode,
			Message:    Redact(env.RetMsg),
		}
	}
	return env.Result, 0, nil
}

func (c *BybitSpotConnector) doPublic(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	attempt := 0
	for {
		resp, err := c.http.R().SetContext(ctx).SetQueryString(query.Encode()).Get(path)
		if err != nil {
			return nil, fmt.Errorf("bybit request failed: %w", err)
		}
		if resp.StatusCode() == 429 && attempt < c.retryMax {
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
		if statusReason, ok := classifyHTTPStatus(resp.StatusCode()); ok {
			return nil, &APIError{Reason: statusReason, HTTPStatus: resp.StatusCode(), Message: fmt.Sprintf("HTTP %d", resp.StatusCode())}
		}
		var env bybitEnvelope
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return nil, fmt.Errorf("malformed bybit response: %w", err)
		}
		if env.RetCode != 0 {
			return nil, &APIError{
				Reason:    classifyBybitRetCode(env.RetCode, env.RetMsg),
				VenueCode: env.RetCode,
				Message:   Redact(env.RetMsg),
			}
		}
		return env.Result, nil
	}
}

func (c *BybitSpotConnector) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", symbol)
	result, err := c.doPublic(ctx, "/v5/market/tickers", query)
	if err != nil {
		return 0, &APIError{Reason: ReasonTickerFailed, Message: Redact(err.Error())}
	}
	var out struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &out); err != nil || len(out.List) == 0 {
		return 0, &APIError{Reason: ReasonTickerFailed, Message: fmt.Sprintf("no ticker for %s", symbol)}
	}
	price, err := strconv.ParseFloat(out.List[0].LastPrice, 64)
	if err != nil || price <= 0 {
		return 0, &APIError{Reason: ReasonTickerFailed, Message: fmt.Sprintf("invalid price for %s", symbol)}
	}
	return price, nil
}

func (c *BybitSpotConnector) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	if cached, ok := c.filters.Get(ExchangeBybit, symbol); ok {
		return cached, nil
	}
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", symbol)
	result, err := c.doPublic(ctx, "/v5/market/instruments-info", query)
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
				MinOrderQty   string `json:"minOrderQty"`
				MinOrderAmt   string `json:"minOrderAmt"`
				QtyStep       string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("malformed instruments-info response: %w", err)
	}
	if len(out.List) == 0 {
		return nil, &APIError{Reason: ReasonExchangeError, Message: fmt.Sprintf("symbol %s not found", symbol)}
	}
	item := out.List[0]
	step, _ := strconv.ParseFloat(item.LotSizeFilter.QtyStep, 64)
	if step == 0 {
		step, _ = strconv.ParseFloat(item.LotSizeFilter.BasePrecision, 64)
	}
	minQty, _ := strconv.ParseFloat(item.LotSizeFilter.MinOrderQty, 64)
	minAmt, _ := strconv.ParseFloat(item.LotSizeFilter.MinOrderAmt, 64)
	tick, _ := strconv.ParseFloat(item.PriceFilter.TickSize, 64)
	filters := &SymbolFilters{
		Symbol:      symbol,
		StepSize:    step,
		TickSize:    tick,
		MinQty:      minQty,
		MinNotional: minAmt,
	}
	c.filters.Put(ExchangeBybit, symbol, filters)
	return filters, nil
}

func (c *BybitSpotConnector) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")
	query.Set("coin", asset)
	result, err := c.doSigned(ctx, "GET", "/v5/account/wallet-balance", query, nil)
	if err != nil {
		return nil, &APIError{Reason: ReasonBalanceFetchFailed, Message: Redact(err.Error())}
	}
	var out struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, &APIError{Reason: ReasonBalanceFetchFailed, Message: "malformed wallet-balance response"}
	}
	for _, account := range out.List {
		for _, coin := range account.Coin {
			if coin.Coin == asset {
				total, _ := strconv.ParseFloat(coin.WalletBalance, 64)
				locked, _ := strconv.ParseFloat(coin.Locked, 64)
				free := total - locked
				if free < 0 {
					free = 0
				}
				return &Balance{Asset: asset, Free: free, Locked: locked}, nil
			}
		}
	}
	return &Balance{Asset: asset}, nil
}

func (c *BybitSpotConnector) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*OrderAck, error) {
	body := map[string]interface{}{
		"category": "spot",
		"symbol":   p.Symbol,
		"side":     bybitSide(p.Side),
		"qty":      strconv.FormatFloat(p.Quantity, 'f', -1, 64),
	}
	if p.ClientOrderID != "" {
		body["orderLinkId"] = p.ClientOrderID
	}
	switch p.Type {
	case "MARKET":
		body["orderType"] = "Market"
		// qty for spot market orders is in base units, not quote
		body["marketUnit"] = "baseCoin"
	default:
		body["orderType"] = "Limit"
		body["price"] = strconv.FormatFloat(p.Price, 'f', -1, 64)
		body["timeInForce"] = "GTC"
	}
	result, err := c.doSigned(ctx, "POST", "/v5/order/create", nil, body)
	if err != nil {
		return nil, err
	}
	var ack struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(result, &ack); err != nil {
		return nil, fmt.Errorf("malformed order response: %w", err)
	}
	if ack.OrderID == "" {
		return nil, &APIError{Reason: ReasonNoOrderID, Message: "order accepted but no order id returned"}
	}
	return &OrderAck{
		OrderID:       ack.OrderID,
		ClientOrderID: ack.OrderLinkID,
		Status:        OrderStatusNew,
		RawResponse:   string(result),
	}, nil
}

func (c *BybitSpotConnector) GetOrder(ctx context.Context, symbol, orderID string) (*OrderQuery, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", symbol)
	query.Set("orderId", orderID)
	result, err := c.doSigned(ctx, "GET", "/v5/order/realtime", query, nil)
	if err != nil {
		return nil, err
	}
	order, err := parseBybitOrder(result)
	if err == nil {
		return order, nil
	}
	// realtime only covers recent orders. fall back to history
	result, err = c.doSigned(ctx, "GET", "/v5/order/history", query, nil)
	if err != nil {
		return nil, err
	}
	return parseBybitOrder(result)
}

func parseBybitOrder(result json.RawMessage) (*OrderQuery, error) {
	var out struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("malformed order query response: %w", err)
	}
	if len(out.List) == 0 {
		return nil, &APIError{Reason: ReasonOrderNotFound, Message: "order not found"}
	}
	o := out.List[0]
	executed, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	return &OrderQuery{
		OrderID:     o.OrderID,
		Status:      normalizeBybitStatus(o.OrderStatus),
		ExecutedQty: executed,
		AvgPrice:    avg,
		Side:        normalizeSide(o.Side),
		Type:        normalizeOrderType(o.OrderType),
	}, nil
}

func (c *BybitSpotConnector) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := c.doSigned(ctx, "POST", "/v5/order/cancel", nil, body)
	return err
}

func (c *BybitSpotConnector) ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", symbol)
	query.Set("openOnly", "0")
	result, err := c.doSigned(ctx, "GET", "/v5/order/realtime", query, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			OrderStatus string `json:"orderStatus"`
			CreatedTime string `json:"createdTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("malformed open orders response: %w", err)
	}
	orders := make([]OpenOrder, 0, len(out.List))
	for _, o := range out.List {
		status := normalizeBybitStatus(o.OrderStatus)
		if status != OrderStatusNew && status != OrderStatusPartiallyFilled {
			continue
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.Qty, 64)
		created, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
		orders = append(orders, OpenOrder{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Side:      normalizeSide(o.Side),
			Type:      normalizeOrderType(o.OrderType),
			Price:     price,
			OrigQty:   qty,
			Status:    status,
			CreatedAt: created,
		})
	}
	return orders, nil
}

func (c *BybitSpotConnector) TestConnection(ctx context.Context) error {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")
	_, err := c.doSigned(ctx, "GET", "/v5/account/wallet-balance", query, nil)
	return err
}

func bybitSide(side string) string {
	if side == "SELL" {
		return "Sell"
	}
	return "Buy"
}

func normalizeSide(side string) string {
	switch side {
	case "Buy":
		return "BUY"
	case "Sell":
		return "SELL"
	}
	return side
}

func normalizeOrderType(orderType string) string {
	switch orderType {
	case "Market":
		return "MARKET"
	case "Limit":
		return "LIMIT"
	}
	return orderType
}

func normalizeBybitStatus(status string) string {
	switch status {
	case "New", "Untriggered":
		return OrderStatusNew
	case "PartiallyFilledCanceled":
		return OrderStatusCancelled
	case "PartiallyFilled":
		return OrderStatusPartiallyFilled
	case "Filled":
		return OrderStatusFilled
	case "Cancelled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return status
	}
}
