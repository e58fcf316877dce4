package kite

import (
	"sync"
	"time"

	"momentum-bot/internal/types"
)

// historyCache keeps the last history response per symbol and interval so
// a symbol that reappears in consecutive scans does not hit the
// rate-limited historical API every cycle.
type historyCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[historyKey]historyEntry
	mu      sync.RWMutex
}

type historyKey struct {
	symbol   string
	interval time.Duration
}

type historyEntry struct {
	bars      []types.PriceBar
	fetchedAt time.Time
}

func newHistoryCache(ttl time.Duration) *historyCache {
	return &historyCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[historyKey]historyEntry),
	}
}

// get returns the last n cached bars if a fresh entry holds at least n.
func (hc *historyCache) get(symbol string, window types.HistoryWindow) ([]types.PriceBar, bool) {
	if hc.ttl <= 0 {
		return nil, false
	}
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	e, ok := hc.entries[historyKey{symbol, window.Interval}]
	if !ok || hc.now().Sub(e.fetchedAt) > hc.ttl || len(e.bars) < window.Bars {
		return nil, false
	}
	return append([]types.PriceBar(nil), lastBars(e.bars, window.Bars)...), true
}

func (hc *historyCache) put(symbol string, interval time.Duration, bars []types.PriceBar) {
	if hc.ttl <= 0 {
		return
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.entries[historyKey{symbol, interval}] = historyEntry{bars: bars, fetchedAt: hc.now()}
}

// clear removes everything; used on reconnect.
func (hc *historyCache) clear() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.entries = make(map[historyKey]historyEntry)
}

func lastBars(bars []types.PriceBar, n int) []types.PriceBar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
