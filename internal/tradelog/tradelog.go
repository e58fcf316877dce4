// Package tradelog writes the append-only daily journals: one JSON line per
// fill and one per signal evaluation.
package tradelog

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/types"
)

const stampLayout = "2006-01-02 15:04:05"

// Entry is one journalled fill.
type Entry struct {
	Time        string           `json:"time"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Qty         int              `json:"qty"`
	Price       decimal.Decimal  `json:"price"`
	OrderID     string           `json:"order_id"`
	Reason      string           `json:"reason,omitempty"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
}

// DecisionEntry is one journalled signal evaluation.
type DecisionEntry struct {
	Time       string             `json:"time"`
	ScanID     string             `json:"scan_id"`
	Symbol     string             `json:"symbol"`
	Entry      bool               `json:"entry"`
	Reason     string             `json:"reason"`
	Bars       int                `json:"bars"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Journal appends to <dir>/<date>.txt and <dir>/decisions/<date>.txt, with
// dates taken in loc.
type Journal struct {
	dir string
	loc *time.Location
	now func() time.Time
	mu  sync.Mutex
}

var (
	_ interfaces.TradeSink       = (*Journal)(nil)
	_ interfaces.DecisionJournal = (*Journal)(nil)
)

func New(dir string, loc *time.Location) *Journal {
	if loc == nil {
		loc = time.UTC
	}
	return &Journal{dir: dir, loc: loc, now: time.Now}
}

func (j *Journal) Dir() string { return j.dir }

// TradeFile is the fills journal for the day containing t.
func (j *Journal) TradeFile(t time.Time) string {
	return filepath.Join(j.dir, t.In(j.loc).Format("2006-01-02")+".txt")
}

func (j *Journal) DecisionFile(t time.Time) string {
	return filepath.Join(j.dir, "decisions", t.In(j.loc).Format("2006-01-02")+".txt")
}

// Append writes a fill line. The event time is used when set.
func (j *Journal) Append(ev types.TradeEvent) error {
	t := ev.Time
	if t.IsZero() {
		t = j.now()
	}
	e := Entry{
		Time:        t.In(j.loc).Format(stampLayout),
		Symbol:      ev.Symbol,
		Side:        string(ev.Action),
		Qty:         ev.Quantity,
		Price:       ev.Price,
		OrderID:     ev.OrderID,
		Reason:      ev.Reason,
		RealizedPnL: ev.RealizedPnL,
	}
	return j.appendLine(j.TradeFile(t), e)
}

// Publish journals a fill; failures are logged, never returned to the
// order path.
func (j *Journal) Publish(ctx context.Context, ev types.TradeEvent) {
	if err := j.Append(ev); err != nil {
		logger.ErrorWithErr(ctx, "Failed to journal trade", err, "symbol", ev.Symbol, "order_id", ev.OrderID)
	}
}

// AppendDecision writes a decision line. Non-finite indicator values are
// omitted since JSON cannot carry them.
func (j *Journal) AppendDecision(rec types.DecisionRecord) error {
	t := rec.Time
	if t.IsZero() {
		t = j.now()
	}
	var ind map[string]float64
	if len(rec.Indicators) > 0 {
		ind = make(map[string]float64, len(rec.Indicators))
		for k, v := range rec.Indicators {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			ind[k] = v
		}
	}
	e := DecisionEntry{
		Time:       t.In(j.loc).Format(stampLayout),
		ScanID:     rec.ScanID,
		Symbol:     rec.Symbol,
		Entry:      rec.Entry,
		Reason:     rec.Reason,
		Bars:       rec.Bars,
		Indicators: ind,
	}
	return j.appendLine(j.DecisionFile(t), e)
}

func (j *Journal) appendLine(p string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips journal files last modified more than retentionDays
// ago and removes the originals. It returns the number of files compressed.
func (j *Journal) CompressOlder(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays)

	j.mu.Lock()
	defer j.mu.Unlock()

	n := 0
	err := filepath.WalkDir(j.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		// An earlier run compressed it but failed to remove the original.
		if _, err := os.Stat(gz); err == nil {
			return os.Remove(p)
		}
		if err := gzipFile(p, gz); err != nil {
			return fmt.Errorf("compress %s: %w", p, err)
		}
		n++
		return os.Remove(p)
	})
	return n, err
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
