package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcarunner/src/connectors"
	"dcarunner/src/gateway"
	"dcarunner/src/model"
)

// ----- fakes -----

type fakeBotStore struct {
	paused  []uint
	stopped []uint
}

func (f *fakeBotStore) MarkPaused(_ context.Context, botID uint) error {
	f.paused = append(f.paused, botID)
	return nil
}

func (f *fakeBotStore) MarkStopped(_ context.Context, botID uint) error {
	f.stopped = append(f.stopped, botID)
	return nil
}

type fakeStateStore struct {
	state *model.BotState
}

func (f *fakeStateStore) GetByBotID(_ context.Context, _ uint) (*model.BotState, error) {
	return f.state, nil
}

func (f *fakeStateStore) Upsert(_ context.Context, state *model.BotState) error {
	f.state = state
	return nil
}

func (f *fakeStateStore) Save(_ context.Context, state *model.BotState) error {
	f.state = state
	return nil
}

type fakeOrderStore struct {
	created   []model.BotOrder
	submitted []model.BotOrder
	statuses  map[string]string
}

func (f *fakeOrderStore) Create(_ context.Context, order *model.BotOrder) error {
	f.created = append(f.created, *order)
	return nil
}

func (f *fakeOrderStore) FindSubmittedByBotID(_ context.Context, _ uint) ([]model.BotOrder, error) {
	return f.submitted, nil
}

func (f *fakeOrderStore) UpdateStatus(_ context.Context, _ uint, exchangeOrderID, status string) error {
	if f.statuses == nil {
		f.statuses = map[string]string{}
	}
	f.statuses[exchangeOrderID] = status
	return nil
}

type fakeConnectionStore struct {
	conn *model.ExchangeConnection
}

func (f *fakeConnectionStore) GetActive(_ context.Context, _ uint, _ string) (*model.ExchangeConnection, error) {
	return f.conn, nil
}

// fakeTickConnector drives the reconciliation and maintenance reads. Order
// placement goes through the fake executor instead, which credits market
// buys to the base balance the way a real fill would.
type fakeTickConnector struct {
	price     float64
	tickerErr error
	filters   connectors.SymbolFilters
	balances  map[string]float64
	locked    map[string]float64
	open      []connectors.OpenOrder
	orders    map[string]*connectors.OrderQuery
	cancelled []string
}

func (f *fakeTickConnector) Exchange() string { return connectors.ExchangeBinance }

func (f *fakeTickConnector) GetTickerPrice(_ context.Context, _ string) (float64, error) {
	if f.tickerErr != nil {
		return 0, f.tickerErr
	}
	return f.price, nil
}

func (f *fakeTickConnector) GetSymbolFilters(_ context.Context, _ string) (*connectors.SymbolFilters, error) {
	filters := f.filters
	return &filters, nil
}

func (f *fakeTickConnector) GetBalance(_ context.Context, asset string) (*connectors.Balance, error) {
	return &connectors.Balance{Asset: asset, Free: f.balances[asset], Locked: f.locked[asset]}, nil
}

func (f *fakeTickConnector) PlaceOrder(_ context.Context, _ connectors.PlaceOrderParams) (*connectors.OrderAck, error) {
	return nil, &connectors.APIError{Reason: connectors.ReasonOther, Message: "not used in engine tests"}
}

func (f *fakeTickConnector) GetOrder(_ context.Context, _, orderID string) (*connectors.OrderQuery, error) {
	if q, ok := f.orders[orderID]; ok {
		return q, nil
	}
	return nil, &connectors.APIError{Reason: connectors.ReasonOrderNotFound, Message: "order not found"}
}

func (f *fakeTickConnector) CancelOrder(_ context.Context, _, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeTickConnector) ListOpenOrders(_ context.Context, _ string) ([]connectors.OpenOrder, error) {
	return f.open, nil
}

func (f *fakeTickConnector) TestConnection(_ context.Context) error { return nil }

type fakeExecutor struct {
	connector *fakeTickConnector
	requests  []gateway.Request
	nextID    int
	failWith  *gateway.Response
}

func (f *fakeExecutor) ExecuteOrder(_ context.Context, req gateway.Request) gateway.Response {
	f.requests = append(f.requests, req)
	if f.failWith != nil {
		return *f.failWith
	}
	f.nextID++
	if req.OrderType == "MARKET" && req.Side == "BUY" && f.connector != nil {
		base := strings.TrimSuffix(req.Symbol, "USDT")
		f.connector.balances[base] += req.Quantity
	}
	return gateway.Response{
		Success:         true,
		Status:          model.AuditStatusPlaced,
		ExchangeOrderID: "ex-" + string(rune('0'+f.nextID)),
	}
}

// ----- fixtures -----

func testBot() *model.Bot {
	return &model.Bot{
		ID:                    7,
		UserID:                3,
		Exchange:              "binance",
		Market:                model.MarketSpot,
		Pair:                  "BTC/USDT",
		Status:                model.BotStatusRunning,
		BaseOrderUSDT:         100,
		GridStepPct:           1.5,
		MaxSafetyOrders:       3,
		SafetyOrderMultiplier: 1.5,
		MaxPositionCapPct:     100,
		TakeProfitPct:         1.0,
	}
}

func newTickFixture(t *testing.T) (*Engine, *fakeBotStore, *fakeStateStore, *fakeOrderStore, *fakeTickConnector, *fakeExecutor) {
	t.Helper()

	connector := &fakeTickConnector{
		price: 50000,
		filters: connectors.SymbolFilters{
			Symbol:      "BTCUSDT",
			StepSize:    0.0001,
			TickSize:    0.01,
			MinQty:      0.0001,
			MinNotional: 5,
		},
		balances: map[string]float64{"USDT": 1000},
		orders:   map[string]*connectors.OrderQuery{},
	}
	executor := &fakeExecutor{connector: connector}
	bots := &fakeBotStore{}
	states := &fakeStateStore{}
	orders := &fakeOrderStore{}
	conns := &fakeConnectionStore{
		conn: &model.ExchangeConnection{
			ID:              1,
			UserID:          3,
			Exchange:        "binance",
			EncryptedConfig: "blob",
			Environment:     model.EnvProduction,
		},
	}

	eng := (&Engine{}).WithDeps(
		bots, states, orders, conns, executor,
		func(connectors.Credentials) connectors.SpotConnector { return connector },
		func(string) (string, error) { return `{"api_key":"k","api_secret":"s"}`, nil },
		Config{TickIntervalSec: 15, TPReplaceThresholdPct: 0.2},
	)
	return eng, bots, states, orders, connector, executor
}

// ----- tick path tests -----

func TestTickBaseEntryThenTakeProfit(t *testing.T) {
	eng, _, states, orders, _, executor := newTickFixture(t)
	now := time.Now()

	result := eng.Tick(context.Background(), testBot(), now)

	assert.Equal(t, model.TickStatusOK, result.Status)
	require.NotNil(t, result.NextTickAt)
	assert.Equal(t, now.Add(15*time.Second), *result.NextTickAt)

	require.Len(t, executor.requests, 2)

	entry := executor.requests[0]
	assert.Equal(t, "BUY", entry.Side)
	assert.Equal(t, "MARKET", entry.OrderType)
	assert.InDelta(t, 0.002, entry.Quantity, 1e-12)
	assert.True(t, strings.HasPrefix(entry.IdempotencyToken, "dca_7_base_"))
	assert.True(t, ValidClientOrderID(entry.IdempotencyToken))

	tp := executor.requests[1]
	assert.Equal(t, "SELL", tp.Side)
	assert.Equal(t, "LIMIT", tp.OrderType)
	assert.InDelta(t, 0.002, tp.Quantity, 1e-12)
	require.NotNil(t, tp.Price)
	assert.InDelta(t, 50500, *tp.Price, 1e-9)
	assert.True(t, strings.HasPrefix(tp.IdempotencyToken, "dca_7_tp_"))

	require.NotNil(t, states.state)
	assert.Equal(t, 1, states.state.GridLevel)
	assert.InDelta(t, 0.002, states.state.PositionSize, 1e-12)
	require.NotNil(t, states.state.AvgEntryPrice)
	assert.InDelta(t, 50000, *states.state.AvgEntryPrice, 1e-9)
	assert.NotEmpty(t, states.state.LastTPOrderID)

	assert.Len(t, orders.created, 2)
}

func TestClientOrderIDDroppedWhenOverVenueLimit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, "dca_7_base_1700000000000", clientOrderID(7, "base", now))
	assert.Empty(t, clientOrderID(7, strings.Repeat("x", 40), now))
}

func TestTickBaseEntrySkippedBelowMinNotional(t *testing.T) {
	eng, _, _, _, connector, executor := newTickFixture(t)
	connector.filters.MinNotional = 10000

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusSkipped, result.Status)
	assert.Contains(t, result.Reason, "below exchange minimum")
	assert.Empty(t, executor.requests)
	require.NotNil(t, result.NextTickAt)
}

func TestTickSafetyOrderPlacement(t *testing.T) {
	eng, _, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0.002
	connector.price = 49000

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusOK, result.Status)
	require.NotEmpty(t, executor.requests)

	safety := executor.requests[0]
	assert.Equal(t, "BUY", safety.Side)
	assert.Equal(t, "LIMIT", safety.OrderType)
	require.NotNil(t, safety.Price)
	assert.InDelta(t, 49250, *safety.Price, 1e-9)
	assert.InDelta(t, 0.0030, safety.Quantity, 1e-12)
	assert.True(t, strings.HasPrefix(safety.IdempotencyToken, "dca_7_s1_"))
}

func TestTickSafetyOrderGatedByPrice(t *testing.T) {
	eng, _, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0.002
	connector.price = 50000 // far above the 49250 rung

	eng.Tick(context.Background(), testBot(), time.Now())

	for _, req := range executor.requests {
		assert.NotEqual(t, "BUY", req.Side, "no safety buy should be placed above the rung price")
	}
}

func TestTickSafetySkippedWhenBuyResting(t *testing.T) {
	eng, _, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0.002
	connector.price = 49000
	connector.open = []connectors.OpenOrder{
		{OrderID: "77", Side: "BUY", Type: "LIMIT", Price: 49250, OrigQty: 0.003, Status: connectors.OrderStatusNew},
		{OrderID: "78", Side: "SELL", Type: "LIMIT", Price: 50500, OrigQty: 0.002, Status: connectors.OrderStatusNew},
	}

	eng.Tick(context.Background(), testBot(), time.Now())

	for _, req := range executor.requests {
		assert.NotEqual(t, "BUY", req.Side)
	}
}

func TestTickTPReplacedWhenDrifted(t *testing.T) {
	eng, _, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, SafetyOrdersFilled: 3, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0.002
	connector.open = []connectors.OpenOrder{
		{OrderID: "90", Side: "SELL", Type: "LIMIT", Price: 50700, OrigQty: 0.002, Status: connectors.OrderStatusNew},
	}

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusOK, result.Status)
	assert.Contains(t, connector.cancelled, "90")

	require.Len(t, executor.requests, 1)
	tp := executor.requests[0]
	assert.Equal(t, "SELL", tp.Side)
	require.NotNil(t, tp.Price)
	assert.InDelta(t, 50500, *tp.Price, 1e-9)
}

func TestTickTPKeptWithinThreshold(t *testing.T) {
	eng, _, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, SafetyOrdersFilled: 3, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0.002
	connector.open = []connectors.OpenOrder{
		{OrderID: "91", Side: "SELL", Type: "LIMIT", Price: 50510, OrigQty: 0.002, Status: connectors.OrderStatusNew},
	}

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusOK, result.Status)
	assert.Empty(t, connector.cancelled)
	assert.Empty(t, executor.requests)
}

func TestTickLadderTP(t *testing.T) {
	eng, _, states, _, connector, executor := newTickFixture(t)
	bot := testBot()
	bot.TPLadder = []model.TPLevel{
		{Pct: 1, SharePct: 50},
		{Pct: 2, SharePct: 30},
		{Pct: 3, SharePct: 20},
	}
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, SafetyOrdersFilled: 3, AvgEntryPrice: &avg, PositionSize: 0.01}
	connector.balances["BTC"] = 0.01
	connector.price = 50000

	result := eng.Tick(context.Background(), bot, time.Now())

	assert.Equal(t, model.TickStatusOK, result.Status)
	require.Len(t, executor.requests, 3)

	wantQty := []float64{0.005, 0.003, 0.002}
	wantPrice := []float64{50500, 51000, 51500}
	for i, req := range executor.requests {
		assert.Equal(t, "SELL", req.Side)
		assert.Equal(t, "LIMIT", req.OrderType)
		assert.InDelta(t, wantQty[i], req.Quantity, 1e-12)
		require.NotNil(t, req.Price)
		assert.InDelta(t, wantPrice[i], *req.Price, 1e-9)
		assert.True(t, strings.Contains(req.IdempotencyToken, "_tp_"))
	}
}

// ----- risk path tests -----

func TestTickDailyLossPausesWithCooldown(t *testing.T) {
	eng, bots, states, _, connector, executor := newTickFixture(t)
	bot := testBot()
	limit := 5.0
	bot.DailyLossLimitPct = &limit
	bot.CooldownMinutes = 30
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, AvgEntryPrice: &avg, PositionSize: 0.002, RealizedPnl: -10}
	connector.balances["BTC"] = 0.002
	now := time.Now()

	result := eng.Tick(context.Background(), bot, now)

	assert.Equal(t, model.TickStatusBlocked, result.Status)
	assert.Equal(t, "Daily loss limit reached", result.Reason)
	require.NotNil(t, result.NextTickAt)
	assert.Equal(t, now.Add(30*time.Minute), *result.NextTickAt)
	assert.Contains(t, bots.paused, uint(7))
	assert.Empty(t, executor.requests)
}

func TestTickDailyLossWithoutCooldownLeavesUnscheduled(t *testing.T) {
	eng, _, states, _, connector, _ := newTickFixture(t)
	bot := testBot()
	limit := 5.0
	bot.DailyLossLimitPct = &limit
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, AvgEntryPrice: &avg, PositionSize: 0.002, RealizedPnl: -10}
	connector.balances["BTC"] = 0.002

	result := eng.Tick(context.Background(), bot, time.Now())

	assert.Equal(t, model.TickStatusBlocked, result.Status)
	assert.Nil(t, result.NextTickAt)
}

func TestTickDrawdownStopsAndFlattens(t *testing.T) {
	eng, bots, states, _, connector, executor := newTickFixture(t)
	bot := testBot()
	stop := 15.0
	bot.MaxDrawdownStopPct = &stop
	bot.FlattenOnStop = true
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0.002
	connector.price = 40000
	connector.open = []connectors.OpenOrder{
		{OrderID: "95", Side: "SELL", Type: "LIMIT", Price: 50500, OrigQty: 0.002, Status: connectors.OrderStatusNew},
	}

	result := eng.Tick(context.Background(), bot, time.Now())

	assert.Equal(t, model.TickStatusBlocked, result.Status)
	assert.Equal(t, "Max drawdown stop", result.Reason)
	assert.Nil(t, result.NextTickAt)
	assert.Contains(t, bots.stopped, uint(7))
	assert.Contains(t, connector.cancelled, "95")

	require.Len(t, executor.requests, 1)
	flatten := executor.requests[0]
	assert.Equal(t, "SELL", flatten.Side)
	assert.Equal(t, "MARKET", flatten.OrderType)
	assert.InDelta(t, 0.002, flatten.Quantity, 1e-12)
	assert.True(t, strings.HasPrefix(flatten.IdempotencyToken, "dca_7_flatten_"))
}

func TestTickDrawdownStopWithoutFlatten(t *testing.T) {
	eng, bots, states, _, connector, executor := newTickFixture(t)
	bot := testBot()
	stop := 15.0
	bot.MaxDrawdownStopPct = &stop
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0.002
	connector.price = 40000

	result := eng.Tick(context.Background(), bot, time.Now())

	assert.Equal(t, model.TickStatusBlocked, result.Status)
	assert.Contains(t, bots.stopped, uint(7))
	assert.Empty(t, executor.requests)
}

func TestTickManualCloseStopsBot(t *testing.T) {
	eng, bots, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 2, SafetyOrdersFilled: 1, AvgEntryPrice: &avg, PositionSize: 0.002}
	connector.balances["BTC"] = 0 // sold by hand on the exchange

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusStopped, result.Status)
	assert.Equal(t, "Position closed manually on exchange", result.Reason)
	assert.Nil(t, result.NextTickAt)
	assert.Contains(t, bots.stopped, uint(7))
	assert.Empty(t, executor.requests)

	assert.Zero(t, states.state.PositionSize)
	assert.Nil(t, states.state.AvgEntryPrice)
	assert.Zero(t, states.state.SafetyOrdersFilled)
}

func TestTickPositionLockedInRestingSellIsKept(t *testing.T) {
	eng, bots, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, SafetyOrdersFilled: 3, AvgEntryPrice: &avg, PositionSize: 0.002}
	// The whole position sits locked in the resting take-profit sell.
	connector.balances["BTC"] = 0
	connector.locked = map[string]float64{"BTC": 0.002}
	connector.open = []connectors.OpenOrder{
		{OrderID: "95", Side: "SELL", Type: "LIMIT", Price: 50500, OrigQty: 0.002, Status: connectors.OrderStatusNew},
	}

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusOK, result.Status)
	assert.Empty(t, bots.stopped)
	assert.Empty(t, connector.cancelled)
	assert.Empty(t, executor.requests)
	assert.InDelta(t, 0.002, states.state.PositionSize, 1e-12)
	require.NotNil(t, states.state.AvgEntryPrice)
}

func TestTickUnrelatedHoldingsDoNotGrowPosition(t *testing.T) {
	eng, bots, states, _, connector, executor := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, SafetyOrdersFilled: 3, AvgEntryPrice: &avg, PositionSize: 0.002}
	// The user holds more of the base asset than the bot ever bought.
	connector.balances["BTC"] = 0.05

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusOK, result.Status)
	assert.Empty(t, bots.stopped)
	assert.InDelta(t, 0.002, states.state.PositionSize, 1e-12)

	require.Len(t, executor.requests, 1)
	tp := executor.requests[0]
	assert.Equal(t, "SELL", tp.Side)
	assert.InDelta(t, 0.002, tp.Quantity, 1e-12)
}

// ----- guard tests -----

func TestTickInvalidConfig(t *testing.T) {
	eng, _, _, _, _, executor := newTickFixture(t)
	bot := testBot()
	bot.BaseOrderUSDT = 0

	result := eng.Tick(context.Background(), bot, time.Now())

	assert.Equal(t, model.TickStatusError, result.Status)
	assert.Contains(t, result.Reason, "base_order_usdt")
	assert.Empty(t, executor.requests)
}

func TestTickNoActiveConnection(t *testing.T) {
	eng, _, _, _, _, executor := newTickFixture(t)
	eng.connections = &fakeConnectionStore{conn: nil}

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusError, result.Status)
	assert.Contains(t, result.Reason, "no active binance connection")
	assert.Empty(t, executor.requests)
}

func TestTickTickerFailure(t *testing.T) {
	eng, _, _, _, connector, executor := newTickFixture(t)
	connector.tickerErr = &connectors.APIError{Reason: connectors.ReasonTickerFailed, Message: "boom"}

	result := eng.Tick(context.Background(), testBot(), time.Now())

	assert.Equal(t, model.TickStatusError, result.Status)
	assert.Contains(t, result.Reason, "ticker fetch failed")
	assert.Empty(t, executor.requests)
}

// ----- reconciliation tests -----

func TestReconcileSellFillBooksPnl(t *testing.T) {
	eng, _, states, orders, connector, _ := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, AvgEntryPrice: &avg, PositionSize: 0.002}

	price := 50500.0
	orders.submitted = []model.BotOrder{
		{BotID: 7, Side: model.SideSell, Type: model.OrderTypeLimit, Price: &price, Qty: 0.002, ExchangeOrderID: "55"},
	}
	connector.orders["55"] = &connectors.OrderQuery{
		OrderID:     "55",
		Status:      connectors.OrderStatusFilled,
		ExecutedQty: 0.002,
		AvgPrice:    50500,
		Side:        "SELL",
		Type:        "LIMIT",
	}

	eng.reconcileOrders(context.Background(), testBot(), connector, "BTCUSDT")

	assert.Equal(t, model.BotOrderStatusFilled, orders.statuses["55"])
	assert.InDelta(t, 1.0, states.state.RealizedPnl, 1e-9)
	assert.Zero(t, states.state.PositionSize)
	assert.Nil(t, states.state.AvgEntryPrice)
	assert.Zero(t, states.state.SafetyOrdersFilled)
}

func TestReconcileSafetyFillRaisesAvgEntry(t *testing.T) {
	eng, _, states, orders, connector, _ := newTickFixture(t)
	avg := 50000.0
	states.state = &model.BotState{ID: 1, BotID: 7, GridLevel: 1, AvgEntryPrice: &avg, PositionSize: 0.002}

	price := 49250.0
	orders.submitted = []model.BotOrder{
		{BotID: 7, Side: model.SideBuy, Type: model.OrderTypeLimit, Price: &price, Qty: 0.003, ExchangeOrderID: "56"},
	}
	connector.orders["56"] = &connectors.OrderQuery{
		OrderID:     "56",
		Status:      connectors.OrderStatusFilled,
		ExecutedQty: 0.003,
		AvgPrice:    49250,
		Side:        "BUY",
		Type:        "LIMIT",
	}

	eng.reconcileOrders(context.Background(), testBot(), connector, "BTCUSDT")

	assert.Equal(t, model.BotOrderStatusFilled, orders.statuses["56"])
	assert.InDelta(t, 0.005, states.state.PositionSize, 1e-12)
	require.NotNil(t, states.state.AvgEntryPrice)
	assert.InDelta(t, 49550, *states.state.AvgEntryPrice, 1e-6)
	assert.Equal(t, 1, states.state.SafetyOrdersFilled)
	assert.Equal(t, 2, states.state.GridLevel)
}

func TestReconcileVanishedOrderMarkedCancelled(t *testing.T) {
	eng, _, states, orders, connector, _ := newTickFixture(t)
	states.state = &model.BotState{ID: 1, BotID: 7}
	orders.submitted = []model.BotOrder{
		{BotID: 7, Side: model.SideBuy, Type: model.OrderTypeLimit, Qty: 0.003, ExchangeOrderID: "57"},
	}

	eng.reconcileOrders(context.Background(), testBot(), connector, "BTCUSDT")

	assert.Equal(t, model.BotOrderStatusCancelled, orders.statuses["57"])
}

func TestReconcileLeavesRestingOrdersAlone(t *testing.T) {
	eng, _, _, orders, connector, _ := newTickFixture(t)
	orders.submitted = []model.BotOrder{
		{BotID: 7, Side: model.SideBuy, Type: model.OrderTypeLimit, Qty: 0.003, ExchangeOrderID: "58"},
	}
	connector.open = []connectors.OpenOrder{
		{OrderID: "58", Side: "BUY", Type: "LIMIT", Price: 49250, OrigQty: 0.003, Status: connectors.OrderStatusNew},
	}

	eng.reconcileOrders(context.Background(), testBot(), connector, "BTCUSDT")

	assert.Empty(t, orders.statuses)
}
