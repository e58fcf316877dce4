package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/types"
)

// AlreadyOpenError is returned when opening a symbol that is already held.
type AlreadyOpenError struct {
	Symbol string
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("position already open for %s", e.Symbol)
}

// NotOpenError is returned when closing a symbol that is not held.
type NotOpenError struct {
	Symbol string
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("no open position for %s", e.Symbol)
}

// Ledger is the set of open positions, at most one per symbol.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]types.Position
	now       func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[string]types.Position),
		now:       time.Now,
	}
}

// Open records a new position.
func (l *Ledger) Open(symbol string, entryPrice decimal.Decimal, shares int) (types.Position, error) {
	if shares <= 0 {
		return types.Position{}, fmt.Errorf("open %s: shares must be positive, got %d", symbol, shares)
	}
	if !entryPrice.IsPositive() {
		return types.Position{}, fmt.Errorf("open %s: entry price must be positive, got %s", symbol, entryPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[symbol]; ok {
		return types.Position{}, &AlreadyOpenError{Symbol: symbol}
	}
	p := types.Position{
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Shares:     shares,
		OpenedAt:   l.now(),
	}
	l.positions[symbol] = p
	return p, nil
}

// Close removes and returns the position for symbol.
func (l *Ledger) Close(symbol string) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, &NotOpenError{Symbol: symbol}
	}
	delete(l.positions, symbol)
	return p, nil
}

func (l *Ledger) IsOpen(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[symbol]
	return ok
}

func (l *Ledger) Get(symbol string) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	return p, ok
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Snapshot returns a copy of all positions sorted by symbol. Later ledger
// changes do not affect it.
func (l *Ledger) Snapshot() []types.Position {
	l.mu.Lock()
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
