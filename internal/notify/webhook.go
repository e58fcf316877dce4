// Package notify posts fills to an outbound webhook.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"momentum-bot/internal/api"
	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/store"
	"momentum-bot/internal/types"
)

// Payload is the JSON body of a webhook call. Text is a one-line summary
// for chat integrations that render only that field.
type Payload struct {
	Text  string           `json:"text"`
	Trade types.TradeEvent `json:"trade"`
}

// Webhook is a TradeSink that delivers fills from a background worker so
// the order path never waits on the network.
type Webhook struct {
	client *api.Client
	url    string
	retry  *api.RetryConfig
	queue  chan types.TradeEvent

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	dropped int
}

var _ interfaces.TradeSink = (*Webhook)(nil)

// New starts the delivery worker. Close stops it after draining the queue.
func New(url string, timeout time.Duration, queueSize int, retry *api.RetryConfig) *Webhook {
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &Webhook{
		client: api.NewClient(api.WithTimeout(timeout), api.WithLogging(true), api.WithHeader("User-Agent", "momentum-bot/1.0")),
		url:    url,
		retry:  retry,
		queue:  make(chan types.TradeEvent, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// FromConfig returns nil when no webhook is configured.
func FromConfig(cfg *store.Config) *Webhook {
	if cfg.Notify.WebhookURL == "" {
		return nil
	}
	return New(cfg.Notify.WebhookURL, cfg.Notify.Timeout, cfg.Notify.QueueSize, api.DefaultRetryConfig())
}

// Publish enqueues ev; when the queue is full the event is dropped.
func (w *Webhook) Publish(ctx context.Context, ev types.TradeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.dropped++
		logger.Warn(ctx, "Webhook queue full, dropping trade", "symbol", ev.Symbol, "order_id", ev.OrderID)
	}
}

// Dropped is the number of events discarded because the queue was full.
func (w *Webhook) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Webhook) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Webhook) run() {
	defer w.wg.Done()
	for ev := range w.queue {
		ctx := context.Background()
		req := api.NewRequest(http.MethodPost, w.url).
			WithContext(ctx).
			WithBody(Payload{Text: Summary(ev), Trade: ev})
		if _, err := w.client.DoWithRetry(req, w.retry); err != nil {
			logger.ErrorWithErr(ctx, "Webhook delivery failed", err, "symbol", ev.Symbol, "order_id", ev.OrderID)
		}
	}
}

// Summary renders a fill as a single human-readable line.
func Summary(ev types.TradeEvent) string {
	s := fmt.Sprintf("%s %d %s @ %s", ev.Action, ev.Quantity, ev.Symbol, ev.Price.StringFixed(2))
	if ev.RealizedPnL != nil {
		s += fmt.Sprintf(" pnl %s", ev.RealizedPnL.StringFixed(2))
	}
	if ev.Reason != "" {
		s += " (" + ev.Reason + ")"
	}
	return s
}
