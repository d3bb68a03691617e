package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"dcarunner/src/connectors"
	"dcarunner/src/gateway"
	"dcarunner/src/model"
	"dcarunner/src/repository"
	"dcarunner/src/risk"
	"dcarunner/src/security"
	"dcarunner/src/symbols"
)

// Fallback filters used when the exchange metadata endpoint is unavailable.
// Deliberately permissive on quantity and conservative on notional.
const (
	fallbackMinQty      = 1e-8
	fallbackStepSize    = 1e-8
	fallbackMinNotional = 1.0
)

// safetyPriceSlack lets a safety rung be placed when the market is within
// 0.1% above the rung price, so a falling market does not miss the level
// between ticks.
const safetyPriceSlack = 1.001

// TickResult is what one tick decided. The scheduler persists it when
// releasing the bot lock; a nil NextTickAt leaves the bot unscheduled.
type TickResult struct {
	Status     string
	Reason     string
	NextTickAt *time.Time
}

// Narrow store surfaces so tests can run the engine against in-memory fakes.

type BotStore interface {
	MarkPaused(ctx context.Context, botID uint) error
	MarkStopped(ctx context.Context, botID uint) error
}

type StateStore interface {
	GetByBotID(ctx context.Context, botID uint) (*model.BotState, error)
	Upsert(ctx context.Context, state *model.BotState) error
	Save(ctx context.Context, state *model.BotState) error
}

type OrderStore interface {
	Create(ctx context.Context, order *model.BotOrder) error
	FindSubmittedByBotID(ctx context.Context, botID uint) ([]model.BotOrder, error)
	UpdateStatus(ctx context.Context, botID uint, exchangeOrderID, status string) error
}

type ConnectionStore interface {
	GetActive(ctx context.Context, userID uint, exchange string) (*model.ExchangeConnection, error)
}

// OrderExecutor is the gateway surface: every order the engine wants placed
// goes through it and leaves an audit row.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, req gateway.Request) gateway.Response
}

// PriceSource serves streamed ticker prices. Optional; the engine falls back
// to the REST ticker when the stream has no fresh price.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// Engine runs the DCA grid state machine for one bot per Tick call. It never
// touches the bot lock; acquiring and releasing is the scheduler's job.
type Engine struct {
	bots         BotStore
	states       StateStore
	orders       OrderStore
	connections  ConnectionStore
	executor     OrderExecutor
	prices       PriceSource
	connectorFor func(connectors.Credentials) connectors.SpotConnector
	decrypt      func(string) (string, error)
	config       Config
}

func NewEngine() *Engine {
	return &Engine{
		bots:         repository.NewBotRepository(),
		states:       repository.NewBotStateRepository(),
		orders:       repository.NewBotOrderRepository(),
		connections:  repository.NewConnectionRepository(),
		executor:     gateway.NewGateway(),
		connectorFor: func(creds connectors.Credentials) connectors.SpotConnector { return creds.Connector() },
		decrypt:      security.DecryptString,
		config:       GetConfig(),
	}
}

// WithDeps overrides collaborators, for tests.
func (e *Engine) WithDeps(
	bots BotStore,
	states StateStore,
	orders OrderStore,
	connections ConnectionStore,
	executor OrderExecutor,
	connectorFor func(connectors.Credentials) connectors.SpotConnector,
	decrypt func(string) (string, error),
	config Config,
) *Engine {
	return &Engine{
		bots:         bots,
		states:       states,
		orders:       orders,
		connections:  connections,
		executor:     executor,
		connectorFor: connectorFor,
		decrypt:      decrypt,
		config:       config,
	}
}

// WithPriceSource attaches a streamed price feed.
func (e *Engine) WithPriceSource(prices PriceSource) *Engine {
	e.prices = prices
	return e
}

// Tick runs one full pass for a locked bot: reconcile fills, enforce risk
// stops, then maintain the grid (base entry, safety rungs, take-profit).
func (e *Engine) Tick(ctx context.Context, bot *model.Bot, now time.Time) TickResult {
	if reason := validateBotConfig(bot); reason != "" {
		return TickResult{Status: model.TickStatusError, Reason: reason, NextTickAt: e.next(now)}
	}

	symbol := symbols.ToExchangeSymbol(bot.Pair)

	conn, err := e.connections.GetActive(ctx, bot.UserID, bot.Exchange)
	if err != nil {
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     "failed to load exchange connection",
			NextTickAt: e.next(now),
		}
	}
	if conn == nil {
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     fmt.Sprintf("no active %s connection for user", bot.Exchange),
			NextTickAt: e.next(now),
		}
	}

	plaintext, err := e.decrypt(conn.EncryptedConfig)
	if err != nil {
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     "failed to decrypt exchange credentials",
			NextTickAt: e.next(now),
		}
	}
	creds, err := connectors.DecodeCredentials(bot.Exchange, conn.Environment, []byte(plaintext))
	if err != nil {
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     "invalid exchange credentials",
			NextTickAt: e.next(now),
		}
	}
	connector := e.connectorFor(creds)

	price, err := e.tickerPrice(ctx, connector, symbol)
	if err != nil {
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     "ticker fetch failed: " + connectors.Redact(err.Error()),
			NextTickAt: e.next(now),
		}
	}

	e.reconcileOrders(ctx, bot, connector, symbol)

	state, err := e.states.GetByBotID(ctx, bot.ID)
	if err != nil {
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     "failed to load bot state",
			NextTickAt: e.next(now),
		}
	}
	if state == nil {
		state = &model.BotState{BotID: bot.ID}
	}

	filters := e.symbolFilters(ctx, connector, symbol)

	if result, stopped := e.reconcilePosition(ctx, bot, state, connector, symbol, filters); stopped {
		return result
	}

	if result, blocked := e.checkDailyLoss(ctx, bot, state, now); blocked {
		return result
	}
	if result, blocked := e.checkDrawdown(ctx, bot, state, creds, connector, symbol, price, filters, now); blocked {
		return result
	}

	if state.PositionSize <= 0 {
		result, entered := e.placeBaseEntry(ctx, bot, state, creds, symbol, price, filters, now)
		if !entered {
			return result
		}
	} else {
		e.maintainSafetyOrders(ctx, bot, state, creds, connector, symbol, price, filters, now)
	}

	if result, failed := e.maintainTakeProfit(ctx, bot, state, creds, connector, symbol, filters, now); failed {
		return result
	}

	return TickResult{Status: model.TickStatusOK, NextTickAt: e.next(now)}
}

func (e *Engine) next(now time.Time) *time.Time {
	n := now.Add(e.config.TickInterval())
	return &n
}

func validateBotConfig(bot *model.Bot) string {
	var problems []string
	if bot.BaseOrderUSDT <= 0 {
		problems = append(problems, "base_order_usdt must be positive")
	}
	if bot.GridStepPct <= 0 {
		problems = append(problems, "grid_step_pct must be positive")
	}
	if bot.TakeProfitPct <= 0 {
		problems = append(problems, "take_profit_pct must be positive")
	}
	if bot.MaxSafetyOrders < 0 {
		problems = append(problems, "max_safety_orders must not be negative")
	}
	if bot.SafetyOrderMultiplier <= 0 {
		problems = append(problems, "safety_order_multiplier must be positive")
	}
	if len(problems) == 0 {
		return ""
	}
	return "invalid bot configuration: " + strings.Join(problems, "; ")
}

func (e *Engine) tickerPrice(ctx context.Context, connector connectors.SpotConnector, symbol string) (float64, error) {
	if e.prices != nil {
		if price, ok := e.prices.Get(symbol); ok {
			return price, nil
		}
	}
	return connector.GetTickerPrice(ctx, symbol)
}

func (e *Engine) symbolFilters(ctx context.Context, connector connectors.SpotConnector, symbol string) *connectors.SymbolFilters {
	filters, err := connector.GetSymbolFilters(ctx, symbol)
	if err != nil || filters == nil {
		logger.WithField("symbol", symbol).WithError(err).
			Warn("Symbol filters unavailable, using fallback values")
		return &connectors.SymbolFilters{
			Symbol:      symbol,
			StepSize:    fallbackStepSize,
			MinQty:      fallbackMinQty,
			MinNotional: fallbackMinNotional,
		}
	}
	if filters.StepSize <= 0 {
		filters.StepSize = fallbackStepSize
	}
	if filters.MinQty <= 0 {
		filters.MinQty = fallbackMinQty
	}
	return filters
}

// reconcilePosition trues up the recorded position against the actual base
// balance. A position the exchange no longer holds means someone closed it
// manually, which stops the bot.
func (e *Engine) reconcilePosition(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	connector connectors.SpotConnector,
	symbol string,
	filters *connectors.SymbolFilters,
) (TickResult, bool) {
	if state.PositionSize <= 0 {
		return TickResult{}, false
	}

	base, _ := symbols.SplitBaseQuote(symbol)
	balance, err := connector.GetBalance(ctx, base)
	if err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Warn("Skipping position reconciliation, balance unavailable")
		return TickResult{}, false
	}

	// Resting sells lock the base asset, so the held amount is free + locked.
	actual := balance.Free + balance.Locked
	tolerance := math.Max(filters.StepSize*2, 1e-8)
	if actual >= state.PositionSize-tolerance {
		return TickResult{}, false
	}

	reconciled := 0.0
	if actual >= filters.MinQty {
		reconciled = actual
	}

	state.PositionSize = reconciled
	if reconciled == 0 {
		state.AvgEntryPrice = nil
		state.GridLevel = 0
		state.SafetyOrdersFilled = 0
		state.LastTPOrderID = ""
	}
	if state.ID != 0 {
		if err := e.states.Save(ctx, state); err != nil {
			logger.WithField("bot_id", bot.ID).WithError(err).
				Error("Failed to persist reconciled position")
		}
	}

	if reconciled == 0 {
		if err := e.bots.MarkStopped(ctx, bot.ID); err != nil {
			logger.WithField("bot_id", bot.ID).WithError(err).
				Error("Failed to stop bot after manual close")
		}
		return TickResult{
			Status: model.TickStatusStopped,
			Reason: "Position closed manually on exchange",
		}, true
	}

	logger.WithFields(map[string]interface{}{
		"bot_id":     bot.ID,
		"recorded":   state.PositionSize,
		"on_balance": actual,
	}).Info("Position reconciled against exchange balance")

	return TickResult{}, false
}

func (e *Engine) checkDailyLoss(ctx context.Context, bot *model.Bot, state *model.BotState, now time.Time) (TickResult, bool) {
	if bot.DailyLossLimitPct == nil {
		return TickResult{}, false
	}
	exceeded := risk.DailyLossExceeded(
		decimal.NewFromFloat(state.RealizedPnl),
		risk.DailyLossConfig{
			BaseOrderUSDT: decimal.NewFromFloat(bot.BaseOrderUSDT),
			LimitPct:      decimal.NewFromFloat(*bot.DailyLossLimitPct),
		},
	)
	if !exceeded {
		return TickResult{}, false
	}

	if err := e.bots.MarkPaused(ctx, bot.ID); err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Error("Failed to pause bot after daily loss limit")
	}

	var resume *time.Time
	if bot.CooldownMinutes > 0 {
		r := now.Add(time.Duration(bot.CooldownMinutes) * time.Minute)
		resume = &r
	}
	return TickResult{
		Status:     model.TickStatusBlocked,
		Reason:     "Daily loss limit reached",
		NextTickAt: resume,
	}, true
}

func (e *Engine) checkDrawdown(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	creds connectors.Credentials,
	connector connectors.SpotConnector,
	symbol string,
	price float64,
	filters *connectors.SymbolFilters,
	now time.Time,
) (TickResult, bool) {
	if bot.MaxDrawdownStopPct == nil || state.AvgEntryPrice == nil {
		return TickResult{}, false
	}
	triggered := risk.DrawdownStopTriggered(
		decimal.NewFromFloat(*state.AvgEntryPrice),
		decimal.NewFromFloat(price),
		decimal.NewFromFloat(state.PositionSize),
		decimal.NewFromFloat(*bot.MaxDrawdownStopPct),
	)
	if !triggered {
		return TickResult{}, false
	}

	if bot.FlattenOnStop {
		e.flattenPosition(ctx, bot, state, creds, connector, symbol, filters, now)
	}

	if err := e.bots.MarkStopped(ctx, bot.ID); err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Error("Failed to stop bot after drawdown stop")
	}

	return TickResult{
		Status: model.TickStatusBlocked,
		Reason: "Max drawdown stop",
	}, true
}

// flattenPosition market-sells the whole position as part of a risk stop.
// Failures are logged but never block the stop itself.
func (e *Engine) flattenPosition(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	creds connectors.Credentials,
	connector connectors.SpotConnector,
	symbol string,
	filters *connectors.SymbolFilters,
	now time.Time,
) {
	open, err := connector.ListOpenOrders(ctx, symbol)
	if err == nil {
		for _, o := range open {
			if !strings.EqualFold(o.Side, "SELL") {
				continue
			}
			if err := connector.CancelOrder(ctx, symbol, o.OrderID); err != nil {
				logger.WithFields(map[string]interface{}{
					"bot_id":   bot.ID,
					"order_id": o.OrderID,
				}).WithError(err).Warn("Could not cancel sell order before flatten")
			}
		}
	} else {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Warn("Could not list open orders before flatten")
	}

	qty := symbols.RoundToStep(state.PositionSize, filters.StepSize)
	if qty < filters.MinQty {
		return
	}

	token := clientOrderID(bot.ID, "flatten", now)
	resp := e.executor.ExecuteOrder(ctx, gateway.Request{
		Source:           "dca",
		UserID:           bot.UserID,
		BotID:            &bot.ID,
		Exchange:         bot.Exchange,
		MarketType:       bot.Market,
		Symbol:           symbol,
		Side:             "SELL",
		OrderType:        "MARKET",
		Quantity:         qty,
		Credentials:      creds,
		IdempotencyToken: token,
	})
	if !resp.Success {
		logger.WithFields(map[string]interface{}{
			"bot_id": bot.ID,
			"reason": resp.ReasonCode,
		}).Warn("Flatten order was not placed: " + resp.Message)
		return
	}

	e.recordOrder(ctx, bot, symbol, model.SideSell, model.OrderTypeMarket, qty, nil, token, resp)
}

// placeBaseEntry opens the grid with a market buy sized from the configured
// quote amount. Returns entered=true when a position now exists and the tick
// should continue into take-profit placement.
func (e *Engine) placeBaseEntry(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	creds connectors.Credentials,
	symbol string,
	price float64,
	filters *connectors.SymbolFilters,
	now time.Time,
) (TickResult, bool) {
	qty := symbols.RoundToStep(math.Max(bot.BaseOrderUSDT/price, filters.MinQty), filters.StepSize)
	notional := qty * price
	if filters.MinNotional > 0 && notional < filters.MinNotional {
		return TickResult{
			Status: model.TickStatusSkipped,
			Reason: fmt.Sprintf("base order notional %.2f below exchange minimum %.2f",
				notional, filters.MinNotional),
			NextTickAt: e.next(now),
		}, false
	}

	token := clientOrderID(bot.ID, "base", now)
	resp := e.executor.ExecuteOrder(ctx, gateway.Request{
		Source:           "dca",
		UserID:           bot.UserID,
		BotID:            &bot.ID,
		Exchange:         bot.Exchange,
		MarketType:       bot.Market,
		Symbol:           symbol,
		Side:             "BUY",
		OrderType:        "MARKET",
		Quantity:         qty,
		Credentials:      creds,
		IdempotencyToken: token,
	})
	if !resp.Success {
		status := model.TickStatusError
		if resp.Status == model.AuditStatusSkipped {
			status = model.TickStatusSkipped
		}
		return TickResult{
			Status:     status,
			Reason:     resp.Message,
			NextTickAt: e.next(now),
		}, false
	}

	e.recordOrder(ctx, bot, symbol, model.SideBuy, model.OrderTypeMarket, qty, nil, token, resp)

	entry := price
	state.GridLevel = 1
	state.SafetyOrdersFilled = 0
	state.AvgEntryPrice = &entry
	state.PositionSize = qty
	state.LastEntryOrderID = resp.ExchangeOrderID
	if err := e.states.Upsert(ctx, state); err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Error("Failed to persist state after base entry")
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     "base entry placed but state could not be saved",
			NextTickAt: e.next(now),
		}, false
	}

	logger.WithFields(map[string]interface{}{
		"bot_id": bot.ID,
		"symbol": symbol,
		"qty":    qty,
		"price":  price,
	}).Info("Base entry placed")

	return TickResult{}, true
}

// maintainSafetyOrders keeps exactly one resting safety buy below the average
// entry while rungs remain. All failures are swallowed; safety placement must
// never block take-profit maintenance.
func (e *Engine) maintainSafetyOrders(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	creds connectors.Credentials,
	connector connectors.SpotConnector,
	symbol string,
	price float64,
	filters *connectors.SymbolFilters,
	now time.Time,
) {
	if state.SafetyOrdersFilled >= bot.MaxSafetyOrders || state.AvgEntryPrice == nil {
		return
	}

	open, err := connector.ListOpenOrders(ctx, symbol)
	if err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Warn("Skipping safety order maintenance, open orders unavailable")
		return
	}
	for _, o := range open {
		if strings.EqualFold(o.Side, "BUY") {
			return
		}
	}

	level := state.SafetyOrdersFilled + 1
	levelPrice := roundPrice(*state.AvgEntryPrice * (1 - bot.GridStepPct/100*float64(level)))
	if levelPrice <= 0 {
		return
	}
	sizeUSDT := bot.BaseOrderUSDT * math.Pow(bot.SafetyOrderMultiplier, float64(level))
	qty := symbols.RoundToStep(math.Max(sizeUSDT/levelPrice, filters.MinQty), filters.StepSize)

	if filters.MinNotional > 0 && qty*levelPrice < filters.MinNotional {
		return
	}
	if price > levelPrice*safetyPriceSlack {
		return
	}
	if capped := e.positionCapReached(bot, state, sizeUSDT); capped {
		logger.WithField("bot_id", bot.ID).Info("Safety order skipped, position cap reached")
		return
	}

	token := clientOrderID(bot.ID, fmt.Sprintf("s%d", level), now)
	resp := e.executor.ExecuteOrder(ctx, gateway.Request{
		Source:           "dca",
		UserID:           bot.UserID,
		BotID:            &bot.ID,
		Exchange:         bot.Exchange,
		MarketType:       bot.Market,
		Symbol:           symbol,
		Side:             "BUY",
		OrderType:        "LIMIT",
		Quantity:         qty,
		Price:            &levelPrice,
		Credentials:      creds,
		IdempotencyToken: token,
	})
	if !resp.Success {
		logger.WithFields(map[string]interface{}{
			"bot_id": bot.ID,
			"level":  level,
			"reason": resp.ReasonCode,
		}).Warn("Safety order was not placed: " + resp.Message)
		return
	}

	e.recordOrder(ctx, bot, symbol, model.SideBuy, model.OrderTypeLimit, qty, &levelPrice, token, resp)
}

// positionCapReached limits the quote committed to the grid to a percentage
// of the full ladder budget.
func (e *Engine) positionCapReached(bot *model.Bot, state *model.BotState, nextSizeUSDT float64) bool {
	if bot.MaxPositionCapPct <= 0 || bot.MaxPositionCapPct >= 100 {
		return false
	}
	budget := bot.BaseOrderUSDT
	for level := 1; level <= bot.MaxSafetyOrders; level++ {
		budget += bot.BaseOrderUSDT * math.Pow(bot.SafetyOrderMultiplier, float64(level))
	}
	committed := 0.0
	if state.AvgEntryPrice != nil {
		committed = state.PositionSize * *state.AvgEntryPrice
	}
	return committed+nextSizeUSDT > budget*bot.MaxPositionCapPct/100
}

// maintainTakeProfit makes sure the open position always has a sell resting
// at the configured profit target, replacing stale ones when the average
// entry has moved. Returns failed=true only when placing a needed TP failed.
func (e *Engine) maintainTakeProfit(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	creds connectors.Credentials,
	connector connectors.SpotConnector,
	symbol string,
	filters *connectors.SymbolFilters,
	now time.Time,
) (TickResult, bool) {
	if state.PositionSize <= 0 || state.AvgEntryPrice == nil {
		return TickResult{}, false
	}

	expected := *state.AvgEntryPrice * (1 + bot.TakeProfitPct/100)

	open, err := connector.ListOpenOrders(ctx, symbol)
	if err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Warn("Skipping take-profit maintenance, open orders unavailable")
		return TickResult{}, false
	}

	var sells []connectors.OpenOrder
	for _, o := range open {
		if strings.EqualFold(o.Side, "SELL") {
			sells = append(sells, o)
		}
	}

	haveTP := len(sells) > 0
	threshold := e.config.TPReplaceThresholdPct / 100
	for _, o := range sells {
		if o.Price <= 0 {
			continue
		}
		drift := math.Abs(o.Price-expected) / o.Price
		if drift > threshold {
			haveTP = false
			break
		}
	}
	if !haveTP && len(sells) > 0 {
		for _, o := range sells {
			if err := connector.CancelOrder(ctx, symbol, o.OrderID); err != nil {
				logger.WithFields(map[string]interface{}{
					"bot_id":   bot.ID,
					"order_id": o.OrderID,
				}).WithError(err).Warn("Could not cancel stale take-profit")
			}
		}
	}
	if haveTP {
		return TickResult{}, false
	}

	base, _ := symbols.SplitBaseQuote(symbol)
	balance, err := connector.GetBalance(ctx, base)
	if err != nil {
		return TickResult{
			Status:     model.TickStatusSkipped,
			Reason:     "balance check unavailable, take-profit deferred",
			NextTickAt: e.next(now),
		}, true
	}

	held := balance.Free + balance.Locked
	sellQty := symbols.RoundToStep(math.Min(state.PositionSize, held), filters.StepSize)
	if sellQty < filters.MinQty {
		if held < filters.MinQty {
			// Dust left on the book; treat the position as closed.
			state.PositionSize = 0
			state.AvgEntryPrice = nil
			state.GridLevel = 0
			state.SafetyOrdersFilled = 0
			state.LastTPOrderID = ""
			if state.ID != 0 {
				if err := e.states.Save(ctx, state); err != nil {
					logger.WithField("bot_id", bot.ID).WithError(err).
						Error("Failed to reset state after dust check")
				}
			}
		}
		return TickResult{}, false
	}

	if len(bot.TPLadder) >= 3 {
		return e.placeTPLadder(ctx, bot, state, creds, symbol, sellQty, filters, now)
	}
	return e.placeSingleTP(ctx, bot, state, creds, symbol, sellQty, roundPrice(expected), now)
}

func (e *Engine) placeSingleTP(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	creds connectors.Credentials,
	symbol string,
	qty, price float64,
	now time.Time,
) (TickResult, bool) {
	token := clientOrderID(bot.ID, "tp", now)
	resp := e.executor.ExecuteOrder(ctx, gateway.Request{
		Source:           "dca",
		UserID:           bot.UserID,
		BotID:            &bot.ID,
		Exchange:         bot.Exchange,
		MarketType:       bot.Market,
		Symbol:           symbol,
		Side:             "SELL",
		OrderType:        "LIMIT",
		Quantity:         qty,
		Price:            &price,
		Credentials:      creds,
		IdempotencyToken: token,
	})
	if !resp.Success {
		return TickResult{
			Status:     model.TickStatusError,
			Reason:     "take-profit placement failed: " + resp.Message,
			NextTickAt: e.next(now),
		}, true
	}

	e.recordOrder(ctx, bot, symbol, model.SideSell, model.OrderTypeLimit, qty, &price, token, resp)

	state.LastTPOrderID = resp.ExchangeOrderID
	if err := e.states.Upsert(ctx, state); err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Error("Failed to persist take-profit order id")
	}
	return TickResult{}, false
}

// placeTPLadder splits the position across the configured ladder levels,
// share-weighted. Rungs that round below the minimum quantity are skipped.
func (e *Engine) placeTPLadder(
	ctx context.Context,
	bot *model.Bot,
	state *model.BotState,
	creds connectors.Credentials,
	symbol string,
	totalQty float64,
	filters *connectors.SymbolFilters,
	now time.Time,
) (TickResult, bool) {
	totalShare := 0.0
	for _, level := range bot.TPLadder {
		totalShare += level.SharePct
	}
	if totalShare <= 0 {
		return TickResult{}, false
	}

	avgEntry := *state.AvgEntryPrice
	lastOrderID := ""
	for i, level := range bot.TPLadder {
		qty := symbols.RoundToStep(totalQty*level.SharePct/totalShare, filters.StepSize)
		if qty < filters.MinQty {
			continue
		}
		price := roundPrice(avgEntry * (1 + level.Pct/100))

		token := clientOrderID(bot.ID, fmt.Sprintf("tp_%d", i), now)
		resp := e.executor.ExecuteOrder(ctx, gateway.Request{
			Source:           "dca",
			UserID:           bot.UserID,
			BotID:            &bot.ID,
			Exchange:         bot.Exchange,
			MarketType:       bot.Market,
			Symbol:           symbol,
			Side:             "SELL",
			OrderType:        "LIMIT",
			Quantity:         qty,
			Price:            &price,
			Credentials:      creds,
			IdempotencyToken: token,
		})
		if !resp.Success {
			return TickResult{
				Status:     model.TickStatusError,
				Reason:     fmt.Sprintf("take-profit ladder rung %d failed: %s", i, resp.Message),
				NextTickAt: e.next(now),
			}, true
		}

		e.recordOrder(ctx, bot, symbol, model.SideSell, model.OrderTypeLimit, qty, &price, token, resp)
		lastOrderID = resp.ExchangeOrderID
	}

	if lastOrderID != "" {
		state.LastTPOrderID = lastOrderID
		if err := e.states.Upsert(ctx, state); err != nil {
			logger.WithField("bot_id", bot.ID).WithError(err).
				Error("Failed to persist take-profit order id")
		}
	}
	return TickResult{}, false
}

func (e *Engine) recordOrder(
	ctx context.Context,
	bot *model.Bot,
	symbol, side, orderType string,
	qty float64,
	price *float64,
	clientOrderID string,
	resp gateway.Response,
) {
	order := &model.BotOrder{
		BotID:           bot.ID,
		Exchange:        bot.Exchange,
		Symbol:          symbol,
		Side:            side,
		Type:            orderType,
		Price:           price,
		Qty:             qty,
		ExchangeOrderID: resp.ExchangeOrderID,
		ClientOrderID:   clientOrderID,
		Status:          model.BotOrderStatusSubmitted,
	}
	if err := e.orders.Create(ctx, order); err != nil {
		logger.WithFields(map[string]interface{}{
			"bot_id":   bot.ID,
			"order_id": resp.ExchangeOrderID,
		}).WithError(err).Error("Failed to record bot order")
	}
}

// roundPrice quantizes limit prices to two decimals, the precision used for
// USDT-quoted pairs.
func roundPrice(price float64) float64 {
	return math.Round(price*100) / 100
}
