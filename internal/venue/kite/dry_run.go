package kite

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/types"
)

const simPrefix = "SIM-"

// quoteTap records every live price before passing it on, so dry-run
// orders can be filled at the last traded price.
type quoteTap struct {
	interfaces.EventHandler
	v *Venue
}

func (q quoteTap) OnPriceUpdate(u types.PriceUpdate) {
	q.v.recordQuote(u.Symbol, u.Price)
	q.EventHandler.OnPriceUpdate(u)
}

func (v *Venue) recordQuote(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quotes[symbol] = price
}

func (v *Venue) quote(symbol string) (decimal.Decimal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.quotes[symbol]
	return p, ok
}

// simulateOrder fills req at the last known price without touching the
// order API. Statuses are delivered from a separate goroutine, as the
// ticker would.
func (v *Venue) simulateOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	price, ok := v.quote(req.Symbol)
	if !ok {
		return "", &types.VenueRequestError{Op: "order", Symbol: req.Symbol, Message: "dry-run: no reference price"}
	}
	v.mu.Lock()
	h := v.handler
	v.mu.Unlock()
	if h == nil {
		return "", &types.VenueRequestError{Op: "order", Symbol: req.Symbol, Message: "dry-run: not connected"}
	}

	id := simPrefix + uuid.NewString()
	logger.Info(ctx, "Dry-run order simulated",
		"order_id", id,
		"symbol", req.Symbol,
		"action", string(req.Action),
		"quantity", req.Quantity,
		"price", price,
	)

	go func() {
		h.OnOrderStatus(types.OrderStatusEvent{OrderID: id, Status: types.OrderStatusSubmitted})
		time.Sleep(v.p.DryRunFillDelay)
		h.OnOrderStatus(types.OrderStatusEvent{
			OrderID:      id,
			Status:       types.OrderStatusFilled,
			FilledQty:    req.Quantity,
			AvgFillPrice: price,
			Message:      "dry-run",
		})
	}()
	return id, nil
}

func isSimulated(orderID string) bool {
	return strings.HasPrefix(orderID, simPrefix)
}
