package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"dcarunner/src/connectors"
	"dcarunner/src/model"
	"dcarunner/src/repository"
	"dcarunner/src/symbols"
)

// Request describes one order placement attempt. Symbol is in exchange
// format (BTCUSDT). Quantity is always in base units.
type Request struct {
	Source           string
	UserID           uint
	BotID            *uint
	Exchange         string
	MarketType       string
	Symbol           string
	Side             string // BUY / SELL
	OrderType        string // MARKET / LIMIT
	Quantity         float64
	Price            *float64
	Leverage         *int
	RequestedQuote   *float64
	Credentials      connectors.Credentials
	IdempotencyToken string
}

type Response struct {
	Success         bool
	Status          string
	ReasonCode      string
	Message         string
	ExchangeOrderID string
}

// AuditWriter is the slice of the audit repository the gateway needs.
type AuditWriter interface {
	Create(ctx context.Context, audit *model.ExecutionAudit) error
}

// Gateway is the single chokepoint every order must pass through. It runs
// pre-flight validation and balance checks, places the order, and writes
// exactly one audit row per invocation regardless of outcome.
type Gateway struct {
	audits       AuditWriter
	config       Config
	connectorFor func(connectors.Credentials) connectors.SpotConnector
}

func NewGateway() *Gateway {
	return &Gateway{
		audits:       repository.NewAuditRepository(),
		config:       GetConfig(),
		connectorFor: func(creds connectors.Credentials) connectors.SpotConnector { return creds.Connector() },
	}
}

// WithDeps overrides collaborators, for tests.
func (g *Gateway) WithDeps(audits AuditWriter, config Config, connectorFor func(connectors.Credentials) connectors.SpotConnector) *Gateway {
	return &Gateway{audits: audits, config: config, connectorFor: connectorFor}
}

// ExecuteOrder never returns an error: every failure mode is caught,
// sanitized, and reflected in the Response and the audit row.
func (g *Gateway) ExecuteOrder(ctx context.Context, req Request) Response {
	audit := &model.ExecutionAudit{
		RequestID:  uuid.NewString(),
		UserID:     req.UserID,
		Source:     req.Source,
		BotID:      req.BotID,
		Exchange:   req.Exchange,
		MarketType: req.MarketType,
		Symbol:     req.Symbol,
		Side:       strings.ToLower(req.Side),
		OrderType:  strings.ToLower(req.OrderType),
		Price:      req.Price,
		Leverage:   req.Leverage,
	}
	if req.Quantity > 0 {
		qty := req.Quantity
		audit.RequestedQty = &qty
	}
	audit.RequestedQuote = req.RequestedQuote

	finish := func(resp Response) Response {
		audit.Status = resp.Status
		if !resp.Success {
			audit.ErrorCode = resp.ReasonCode
			audit.ErrorMessage = resp.Message
		}
		audit.ExchangeOrderID = resp.ExchangeOrderID
		if err := g.audits.Create(ctx, audit); err != nil {
			logger.WithFields(map[string]interface{}{
				"symbol": req.Symbol,
				"side":   req.Side,
				"status": resp.Status,
			}).WithError(err).Error("Failed to persist execution audit row")
		}
		return resp
	}

	if g.config.DemoMode {
		return finish(Response{
			Status:     model.AuditStatusSkipped,
			ReasonCode: connectors.ReasonDemoMode,
			Message:    "demo mode enabled, order not sent",
		})
	}

	if !strings.EqualFold(req.MarketType, model.MarketSpot) {
		return finish(Response{
			Status:     model.AuditStatusFailed,
			ReasonCode: connectors.ReasonOther,
			Message:    "futures execution not enabled on this runner",
		})
	}

	connector := g.connectorFor(req.Credentials)

	price, err := connector.GetTickerPrice(ctx, req.Symbol)
	if err != nil {
		return finish(failed(connectors.ReasonTickerFailed, err))
	}
	if req.OrderType == "LIMIT" && req.Price != nil {
		price = *req.Price
	}

	filters, err := connector.GetSymbolFilters(ctx, req.Symbol)
	if err != nil {
		return finish(failed(connectors.ReasonOf(err), err))
	}

	if req.Quantity <= 0 || math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) {
		return finish(Response{
			Status:     model.AuditStatusSkipped,
			ReasonCode: connectors.ReasonInvalidQuantity,
			Message:    fmt.Sprintf("requested quantity %v is not a positive number", req.Quantity),
		})
	}

	notional := req.Quantity * price
	audit.MinNotional = &filters.MinNotional
	audit.PrecheckResult = marshalRedacted(map[string]interface{}{
		"ticker_price": price,
		"step_size":    filters.StepSize,
		"min_qty":      filters.MinQty,
		"min_notional": filters.MinNotional,
		"notional":     notional,
	})

	if filters.MinNotional > 0 && notional < filters.MinNotional {
		return finish(Response{
			Status:     model.AuditStatusSkipped,
			ReasonCode: connectors.ReasonBelowMinNotional,
			Message: fmt.Sprintf("order notional %.2f below exchange minimum %.2f",
				notional, filters.MinNotional),
		})
	}

	base, quote := symbols.SplitBaseQuote(req.Symbol)
	buffer := 1 + g.config.FeeBufferPercent/100

	var requiredAsset string
	var required float64
	if strings.EqualFold(req.Side, "BUY") {
		requiredAsset = quote
		quoteAmount := notional
		if req.RequestedQuote != nil && *req.RequestedQuote > 0 {
			quoteAmount = *req.RequestedQuote
		}
		required = quoteAmount * buffer
	} else {
		requiredAsset = base
		required = req.Quantity * buffer
	}

	balance, err := connector.GetBalance(ctx, requiredAsset)
	if err != nil {
		return finish(failed(connectors.ReasonBalanceFetchFailed, err))
	}
	audit.AvailableBalance = &balance.Free
	audit.RequiredBalance = &required

	if balance.Free < required {
		return finish(Response{
			Status:     model.AuditStatusSkipped,
			ReasonCode: connectors.ReasonInsufficientBalance,
			Message: fmt.Sprintf("insufficient %s balance: available %.8f, required %.8f",
				requiredAsset, balance.Free, required),
		})
	}

	params := connectors.PlaceOrderParams{
		Symbol:        req.Symbol,
		Side:          strings.ToUpper(req.Side),
		Type:          strings.ToUpper(req.OrderType),
		Quantity:      req.Quantity,
		ClientOrderID: req.IdempotencyToken,
	}
	if req.Price != nil {
		params.Price = *req.Price
	}
	audit.ExchangeRequest = marshalRedacted(params)

	ack, err := connector.PlaceOrder(ctx, params)
	if err != nil {
		return finish(failed(connectors.ReasonOf(err), err))
	}
	audit.ExchangeResponse = redactJSON(ack.RawResponse)

	if ack.OrderID == "" {
		return finish(Response{
			Status:     model.AuditStatusFailed,
			ReasonCode: connectors.ReasonNoOrderID,
			Message:    "exchange accepted the request without returning an order id",
		})
	}

	logger.WithFields(map[string]interface{}{
		"request_id": audit.RequestID,
		"symbol":     req.Symbol,
		"side":       req.Side,
		"qty":        req.Quantity,
		"order_id":   ack.OrderID,
		"source":     req.Source,
	}).Info("Order placed")

	return finish(Response{
		Success:         true,
		Status:          model.AuditStatusPlaced,
		ExchangeOrderID: ack.OrderID,
	})
}

func failed(reason string, err error) Response {
	return Response{
		Status:     model.AuditStatusFailed,
		ReasonCode: reason,
		Message:    connectors.Redact(err.Error()),
	}
}
