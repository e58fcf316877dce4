package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerOpenClose(t *testing.T) {
	l := NewLedger()

	p, err := l.Open("XYZ", d("5.00"), 200)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !p.EntryPrice.Equal(d("5")) || p.Shares != 200 {
		t.Errorf("Expected 200 @ 5, got %d @ %s", p.Shares, p.EntryPrice)
	}
	if !l.IsOpen("XYZ") {
		t.Error("Expected XYZ to be open")
	}

	closed, err := l.Close("XYZ")
	if err != nil {
		t.Fatalf("Unexpected close error: %v", err)
	}
	if closed.Symbol != "XYZ" || closed.Shares != 200 {
		t.Errorf("Expected closed XYZ x200, got %+v", closed)
	}
	if l.IsOpen("XYZ") {
		t.Error("Expected XYZ to be closed")
	}
}

func TestLedgerDuplicateOpen(t *testing.T) {
	l := NewLedger()
	if _, err := l.Open("XYZ", d("5"), 200); err != nil {
		t.Fatal(err)
	}

	_, err := l.Open("XYZ", d("6"), 100)
	var already *AlreadyOpenError
	if !errors.As(err, &already) {
		t.Fatalf("Expected AlreadyOpenError, got %v", err)
	}
	if already.Symbol != "XYZ" {
		t.Errorf("Expected symbol XYZ, got %s", already.Symbol)
	}

	p, _ := l.Get("XYZ")
	if !p.EntryPrice.Equal(d("5")) || p.Shares != 200 {
		t.Errorf("Expected original position untouched, got %+v", p)
	}
}

func TestLedgerCloseMissing(t *testing.T) {
	l := NewLedger()
	_, err := l.Close("ABC")
	var notOpen *NotOpenError
	if !errors.As(err, &notOpen) {
		t.Fatalf("Expected NotOpenError, got %v", err)
	}
}

func TestLedgerRejectsInvalidOpen(t *testing.T) {
	l := NewLedger()
	if _, err := l.Open("XYZ", d("5"), 0); err == nil {
		t.Error("Expected error for zero shares")
	}
	if _, err := l.Open("XYZ", d("0"), 10); err == nil {
		t.Error("Expected error for zero price")
	}
	if l.Len() != 0 {
		t.Errorf("Expected empty ledger, got %d", l.Len())
	}
}

func TestLedgerSnapshotIsCopy(t *testing.T) {
	l := NewLedger()
	_, _ = l.Open("BBB", d("2"), 10)
	_, _ = l.Open("AAA", d("1"), 10)

	snap := l.Snapshot()
	if len(snap) != 2 || snap[0].Symbol != "AAA" || snap[1].Symbol != "BBB" {
		t.Fatalf("Expected sorted [AAA BBB], got %+v", snap)
	}

	_, _ = l.Close("AAA")
	if len(snap) != 2 {
		t.Errorf("Expected snapshot to keep 2 entries after close, got %d", len(snap))
	}
	if l.Len() != 1 {
		t.Errorf("Expected 1 open position, got %d", l.Len())
	}
}

func TestLedgerConcurrentOpenSingleWinner(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Open("XYZ", d("5"), 200); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("Expected exactly one successful open, got %d", wins)
	}
}
