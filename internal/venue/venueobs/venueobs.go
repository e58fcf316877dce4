package venueobs

import (
	"context"
	"fmt"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/trace"
	"momentum-bot/internal/types"
)

// observableVenue wraps a Venue with observability (logging & tracing)
type observableVenue struct {
	venue interfaces.Venue
}

// Compile-time interface check
var _ interfaces.Venue = (*observableVenue)(nil)

// Wrap wraps a venue with observability middleware
func Wrap(venue interfaces.Venue) interfaces.Venue {
	return &observableVenue{
		venue: venue,
	}
}

func (ov *observableVenue) Connect(ctx context.Context, params types.ConnectParams, handler interfaces.EventHandler) (*types.Connection, error) {
	ctx, span := trace.StartSpan(ctx, "venue.Connect")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Connecting to venue", "host", params.Host, "port", params.Port, "client_id", params.ClientID)

	conn, err := ov.venue.Connect(ctx, params, handler)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to connect to venue", err, "host", params.Host, "port", params.Port)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Venue connected successfully", "venue", conn.Venue, "connection_id", conn.ID)
	return conn, nil
}

func (ov *observableVenue) Disconnect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "venue.Disconnect")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Disconnecting from venue")
	if err := ov.venue.Disconnect(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Venue disconnect failed", err)
		return fmt.Errorf("venue disconnect failed: %w", err)
	}
	logger.InfoSkip(ctx, 1, "Venue disconnected")
	return nil
}

// RequestScan runs the market scan with observability
func (ov *observableVenue) RequestScan(ctx context.Context, req types.ScanRequest) ([]types.ScanResult, error) {
	ctx, span := trace.StartSpan(ctx, "venue.RequestScan")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Requesting market scan", "scan_id", req.ID, "scan_code", req.Filter.ScanCode, "max_rows", req.Filter.MaxRows)

	rows, err := ov.venue.RequestScan(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Market scan failed", err, "scan_id", req.ID)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Market scan returned", "scan_id", req.ID, "count", len(rows))
	return rows, nil
}

// RequestHistory fetches bars with observability
func (ov *observableVenue) RequestHistory(ctx context.Context, symbol string, window types.HistoryWindow) ([]types.PriceBar, error) {
	ctx, span := trace.StartSpan(ctx, "venue.RequestHistory")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching history", "symbol", symbol, "bars", window.Bars, "interval", window.Interval.String())

	bars, err := ov.venue.RequestHistory(ctx, symbol, window)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch history", err, "symbol", symbol, "bars", window.Bars)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "History fetched successfully", "symbol", symbol, "count", len(bars))
	return bars, nil
}

func (ov *observableVenue) SubscribeLive(ctx context.Context, symbol string) error {
	ctx, span := trace.StartSpan(ctx, "venue.SubscribeLive")
	defer span.End()

	if err := ov.venue.SubscribeLive(ctx, symbol); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Live subscription failed", err, "symbol", symbol)
		return err
	}
	logger.InfoSkip(ctx, 1, "Subscribed to live prices", "symbol", symbol)
	return nil
}

func (ov *observableVenue) UnsubscribeLive(ctx context.Context, symbol string) error {
	ctx, span := trace.StartSpan(ctx, "venue.UnsubscribeLive")
	defer span.End()

	if err := ov.venue.UnsubscribeLive(ctx, symbol); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Live unsubscribe failed", err, "symbol", symbol)
		return err
	}
	logger.InfoSkip(ctx, 1, "Unsubscribed from live prices", "symbol", symbol)
	return nil
}

// SubmitOrder places an order with observability
func (ov *observableVenue) SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	ctx, span := trace.StartSpan(ctx, "venue.SubmitOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"action", req.Action,
		"qty", req.Quantity,
		"tag", req.Tag,
	)

	id, err := ov.venue.SubmitOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"action", req.Action,
			"qty", req.Quantity,
		)
		return "", err
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"symbol", req.Symbol,
		"order_id", id,
	)
	return id, nil
}

func (ov *observableVenue) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := trace.StartSpan(ctx, "venue.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", orderID)
	if err := ov.venue.CancelOrder(ctx, orderID); err != nil {
		// Usually the order reached a terminal state first.
		logger.WarnSkip(ctx, 1, "Failed to cancel order", "order_id", orderID, "error", err)
		return err
	}
	return nil
}
