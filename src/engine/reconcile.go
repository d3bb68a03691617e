package engine

import (
	"context"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"dcarunner/src/connectors"
	"dcarunner/src/model"
	"dcarunner/src/risk"
)

// reconcileOrders settles the bot's submitted orders against the exchange.
// Orders no longer resting are queried individually: fills advance the grid
// state (safety buys raise the weighted average entry, take-profit sells book
// realized PnL), cancellations and vanished orders are marked cancelled.
// Everything here is best effort; a venue hiccup must not block the tick.
func (e *Engine) reconcileOrders(ctx context.Context, bot *model.Bot, connector connectors.SpotConnector, symbol string) {
	submitted, err := e.orders.FindSubmittedByBotID(ctx, bot.ID)
	if err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Warn("Skipping order reconciliation, could not load submitted orders")
		return
	}
	if len(submitted) == 0 {
		return
	}

	open, err := connector.ListOpenOrders(ctx, symbol)
	if err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Warn("Skipping order reconciliation, open orders unavailable")
		return
	}
	resting := make(map[string]bool, len(open))
	for _, o := range open {
		resting[o.OrderID] = true
	}

	for _, order := range submitted {
		if order.ExchangeOrderID == "" || resting[order.ExchangeOrderID] {
			continue
		}

		query, err := connector.GetOrder(ctx, symbol, order.ExchangeOrderID)
		if err != nil {
			if connectors.IsOrderNotFound(err) {
				e.markOrder(ctx, bot.ID, order.ExchangeOrderID, model.BotOrderStatusCancelled)
				continue
			}
			logger.WithFields(map[string]interface{}{
				"bot_id":   bot.ID,
				"order_id": order.ExchangeOrderID,
			}).WithError(err).Warn("Could not query order during reconciliation")
			continue
		}

		switch query.Status {
		case connectors.OrderStatusFilled:
			e.markOrder(ctx, bot.ID, order.ExchangeOrderID, model.BotOrderStatusFilled)
			e.applyFill(ctx, bot, order, query)
		case connectors.OrderStatusCancelled, connectors.OrderStatusRejected:
			e.markOrder(ctx, bot.ID, order.ExchangeOrderID, model.BotOrderStatusCancelled)
		}
	}
}

func (e *Engine) markOrder(ctx context.Context, botID uint, exchangeOrderID, status string) {
	if err := e.orders.UpdateStatus(ctx, botID, exchangeOrderID, status); err != nil {
		logger.WithFields(map[string]interface{}{
			"bot_id":   botID,
			"order_id": exchangeOrderID,
			"status":   status,
		}).WithError(err).Warn("Failed to update bot order status")
	}
}

// applyFill folds a settled order into the bot state. Market buys are applied
// at placement time, so only limit buys (safety rungs) and sells matter here.
func (e *Engine) applyFill(ctx context.Context, bot *model.Bot, order model.BotOrder, query *connectors.OrderQuery) {
	state, err := e.states.GetByBotID(ctx, bot.ID)
	if err != nil || state == nil {
		if err != nil {
			logger.WithField("bot_id", bot.ID).WithError(err).
				Warn("Could not load state while applying fill")
		}
		return
	}

	qty := query.ExecutedQty
	if qty <= 0 {
		qty = order.Qty
	}
	fillPrice := query.AvgPrice
	if fillPrice <= 0 && order.Price != nil {
		fillPrice = *order.Price
	}

	switch {
	case order.Side == model.SideSell:
		e.applySellFill(ctx, bot, state, qty, fillPrice)
	case order.Side == model.SideBuy && order.Type == model.OrderTypeLimit:
		e.applySafetyFill(ctx, bot, state, qty, fillPrice)
	}
}

func (e *Engine) applySellFill(ctx context.Context, bot *model.Bot, state *model.BotState, qty, fillPrice float64) {
	avgEntry := 0.0
	if state.AvgEntryPrice != nil {
		avgEntry = *state.AvgEntryPrice
	}

	pnl := risk.SellPnl(
		decimal.NewFromFloat(avgEntry),
		decimal.NewFromFloat(fillPrice),
		decimal.NewFromFloat(qty),
	)
	pnlFloat, _ := pnl.Float64()
	state.RealizedPnl += pnlFloat

	state.PositionSize -= qty
	if state.PositionSize <= 0 {
		state.PositionSize = 0
		state.AvgEntryPrice = nil
		state.GridLevel = 0
		state.SafetyOrdersFilled = 0
		state.LastTPOrderID = ""
	}

	if err := e.states.Save(ctx, state); err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Error("Failed to persist state after sell fill")
		return
	}

	logger.WithFields(map[string]interface{}{
		"bot_id":       bot.ID,
		"fill_price":   fillPrice,
		"qty":          qty,
		"realized_pnl": pnlFloat,
	}).Info("Take-profit fill booked")
}

func (e *Engine) applySafetyFill(ctx context.Context, bot *model.Bot, state *model.BotState, qty, fillPrice float64) {
	if qty <= 0 || fillPrice <= 0 {
		return
	}

	avgEntry := 0.0
	if state.AvgEntryPrice != nil {
		avgEntry = *state.AvgEntryPrice
	}
	newPosition := state.PositionSize + qty
	newAvg := (avgEntry*state.PositionSize + fillPrice*qty) / newPosition

	state.PositionSize = newPosition
	state.AvgEntryPrice = &newAvg
	state.SafetyOrdersFilled++
	state.GridLevel++

	if err := e.states.Save(ctx, state); err != nil {
		logger.WithField("bot_id", bot.ID).WithError(err).
			Error("Failed to persist state after safety fill")
		return
	}

	logger.WithFields(map[string]interface{}{
		"bot_id":        bot.ID,
		"fill_price":    fillPrice,
		"qty":           qty,
		"avg_entry":     newAvg,
		"safety_filled": state.SafetyOrdersFilled,
	}).Info("Safety order fill applied")
}
