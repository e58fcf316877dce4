package interfaces

import (
	"context"

	"momentum-bot/internal/types"
)

// Venue is the request side of a brokerage session. Scan and history are
// request/response; prices and order status arrive on the EventHandler.
type Venue interface {
	Connect(ctx context.Context, params types.ConnectParams, handler EventHandler) (*types.Connection, error)
	Disconnect(ctx context.Context) error
	RequestScan(ctx context.Context, req types.ScanRequest) ([]types.ScanResult, error)
	RequestHistory(ctx context.Context, symbol string, window types.HistoryWindow) ([]types.PriceBar, error)
	SubscribeLive(ctx context.Context, symbol string) error
	UnsubscribeLive(ctx context.Context, symbol string) error
	SubmitOrder(ctx context.Context, req types.OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
}

// EventHandler receives asynchronous venue callbacks. Implementations must
// not block: callbacks run on the venue's own goroutine.
type EventHandler interface {
	OnOrderStatus(ev types.OrderStatusEvent)
	OnError(ev types.VenueError)
	OnPriceUpdate(u types.PriceUpdate)
	OnConnectionLost(err error)
}
