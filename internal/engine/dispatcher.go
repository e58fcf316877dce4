package engine

import (
	"context"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/types"
)

// dispatcher routes venue callbacks to the order manager and exit monitor.
type dispatcher struct {
	venue  string
	orders *OrderManager
	exits  *ExitMonitor
	onLost func(error)
}

var _ interfaces.EventHandler = (*dispatcher)(nil)

func (d *dispatcher) OnOrderStatus(ev types.OrderStatusEvent) {
	d.orders.OnOrderStatus(ev)
}

func (d *dispatcher) OnError(ev types.VenueError) {
	if d.orders.OnVenueError(ev) {
		return
	}
	logger.Warn(context.Background(), "Venue notice",
		"request_id", ev.RequestID,
		"code", ev.Code,
		"message", ev.Message,
	)
}

func (d *dispatcher) OnPriceUpdate(u types.PriceUpdate) {
	d.exits.OnPriceUpdate(u)
}

func (d *dispatcher) OnConnectionLost(err error) {
	logger.ErrorWithErr(context.Background(), "Venue connection lost", err, "venue", d.venue)
	if d.onLost != nil {
		d.onLost(&types.VenueConnectionError{Venue: d.venue, Err: err})
	}
}
