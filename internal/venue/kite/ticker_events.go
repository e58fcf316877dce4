package kite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"

	"momentum-bot/internal/logger"
	"momentum-bot/internal/types"
)

// Kite order states, as reported on the order postback.
const (
	kiteStatusComplete  = "COMPLETE"
	kiteStatusRejected  = "REJECTED"
	kiteStatusCancelled = "CANCELLED"
)

// setupEventHandlers configures all WebSocket event callbacks
func (tm *tickerManager) setupEventHandlers() {
	tm.ticker.OnConnect(tm.onConnect)
	tm.ticker.OnError(tm.onError)
	tm.ticker.OnClose(tm.onClose)
	tm.ticker.OnReconnect(tm.onReconnect)
	tm.ticker.OnNoReconnect(tm.onNoReconnect)
	tm.ticker.OnTick(tm.onTick)
	tm.ticker.OnOrderUpdate(tm.onOrderUpdate)
}

func (tm *tickerManager) onConnect() {
	logger.Info(context.Background(), "WebSocket connected successfully")
	first := false
	tm.once.Do(func() {
		first = true
		close(tm.connected)
	})
	if !first {
		tm.resubscribe()
	}
}

func (tm *tickerManager) onError(err error) {
	logger.ErrorWithErr(context.Background(), "WebSocket error occurred", err)
}

func (tm *tickerManager) onClose(code int, reason string) {
	logger.Warn(context.Background(), "WebSocket connection closed",
		"code", code,
		"reason", reason,
	)
}

func (tm *tickerManager) onReconnect(attempt int, delay time.Duration) {
	logger.Info(context.Background(), "WebSocket reconnecting",
		"attempt", attempt,
		"delay", delay,
	)
}

func (tm *tickerManager) onNoReconnect(attempt int) {
	logger.Warn(context.Background(), "WebSocket reconnection failed - giving up",
		"attempts", attempt,
	)
	tm.handler.OnConnectionLost(fmt.Errorf("ticker gave up after %d reconnect attempts", attempt))
}

func (tm *tickerManager) onTick(tick models.Tick) {
	symbol := tm.mapper.getSymbol(tick.InstrumentToken)
	if symbol == "" {
		return
	}
	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	tm.handler.OnPriceUpdate(types.PriceUpdate{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(tick.LastPrice),
		Time:   ts,
	})
}

func (tm *tickerManager) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order update received",
		"order_id", order.OrderID,
		"status", order.Status,
		"symbol", order.TradingSymbol,
	)
	tm.handler.OnOrderStatus(orderStatusEvent(order))
}

// orderStatusEvent maps a Kite order postback onto the venue-neutral
// status. Everything that is not terminal is still working.
func orderStatusEvent(o kiteconnect.Order) types.OrderStatusEvent {
	ev := types.OrderStatusEvent{
		OrderID:      o.OrderID,
		FilledQty:    int(o.FilledQuantity),
		AvgFillPrice: decimal.NewFromFloat(o.AveragePrice),
		Message:      o.StatusMessage,
	}
	switch o.Status {
	case kiteStatusComplete:
		ev.Status = types.OrderStatusFilled
	case kiteStatusRejected:
		ev.Status = types.OrderStatusRejected
	case kiteStatusCancelled:
		ev.Status = types.OrderStatusCancelled
	default:
		ev.Status = types.OrderStatusSubmitted
		if ev.FilledQty > 0 {
			ev.Status = types.OrderStatusPartiallyFilled
		}
	}
	return ev
}
