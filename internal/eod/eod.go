// Package eod aggregates the daily fill journal into an end-of-day CSV.
package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/store"
	"momentum-bot/internal/tradelog"
)

type aggRow struct {
	Symbol      string
	BuyQty      int
	BuyValue    decimal.Decimal
	SellQty     int
	SellValue   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Summarizer reads <dir>/<date>.txt and writes <dir>/eod/<date>.csv.
type Summarizer struct {
	journal   *tradelog.Journal
	loc       *time.Location
	closeHour int
	closeMin  int
	now       func() time.Time
}

var _ interfaces.EodSummarizer = (*Summarizer)(nil)

// New builds a summarizer over journal; closeTime is "HH:MM" in loc.
func New(journal *tradelog.Journal, loc *time.Location, closeTime string) (*Summarizer, error) {
	ct, err := time.Parse("15:04", closeTime)
	if err != nil {
		return nil, fmt.Errorf("close time %q: %w", closeTime, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Summarizer{
		journal:   journal,
		loc:       loc,
		closeHour: ct.Hour(),
		closeMin:  ct.Minute(),
		now:       time.Now,
	}, nil
}

// FromConfig builds the journal and summarizer for cfg's timezone.
func FromConfig(cfg *store.Config) (*tradelog.Journal, *Summarizer, error) {
	loc, err := time.LoadLocation(cfg.EOD.Timezone)
	if err != nil {
		return nil, nil, err
	}
	j := tradelog.New(cfg.Journal.Dir, loc)
	s, err := New(j, loc, cfg.EOD.CloseTime)
	if err != nil {
		return nil, nil, err
	}
	return j, s, nil
}

func (s *Summarizer) csvPath(t time.Time) string {
	return filepath.Join(s.journal.Dir(), "eod", t.In(s.loc).Format("2006-01-02")+".csv")
}

func (s *Summarizer) SummarizeDay(t time.Time) (string, error) {
	aggs, err := s.aggregate(s.journal.TradeFile(t))
	if err != nil || len(aggs) == 0 {
		return "", err
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}

	var totalBuy, totalSell, totalPnL decimal.Decimal
	for _, k := range keys {
		r := aggs[k]
		rec := []string{
			r.Symbol,
			strconv.Itoa(r.BuyQty),
			avg(r.BuyValue, r.BuyQty).StringFixed(4),
			strconv.Itoa(r.SellQty),
			avg(r.SellValue, r.SellQty).StringFixed(4),
			r.RealizedPnL.StringFixed(2),
			r.BuyValue.StringFixed(2),
			r.SellValue.StringFixed(2),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy = totalBuy.Add(r.BuyValue)
		totalSell = totalSell.Add(r.SellValue)
		totalPnL = totalPnL.Add(r.RealizedPnL)
	}
	if err := w.Write([]string{"TOTAL", "", "", "", "", totalPnL.StringFixed(2), totalBuy.StringFixed(2), totalSell.StringFixed(2)}); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

// aggregate sums fills per symbol. Realized P&L comes from the sell lines
// themselves; a sell journalled without it falls back to matched quantity
// times the difference of averages.
func (s *Summarizer) aggregate(path string) (map[string]*aggRow, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	missingPnL := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e tradelog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Symbol == "" {
			continue
		}
		row := aggs[e.Symbol]
		if row == nil {
			row = &aggRow{Symbol: e.Symbol}
			aggs[e.Symbol] = row
		}
		value := e.Price.Mul(decimal.NewFromInt(int64(e.Qty)))
		switch e.Side {
		case "BUY":
			row.BuyQty += e.Qty
			row.BuyValue = row.BuyValue.Add(value)
		case "SELL":
			row.SellQty += e.Qty
			row.SellValue = row.SellValue.Add(value)
			if e.RealizedPnL != nil {
				row.RealizedPnL = row.RealizedPnL.Add(*e.RealizedPnL)
			} else {
				missingPnL[e.Symbol] = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for sym := range missingPnL {
		r := aggs[sym]
		matched := min(r.BuyQty, r.SellQty)
		r.RealizedPnL = avg(r.SellValue, r.SellQty).Sub(avg(r.BuyValue, r.BuyQty)).Mul(decimal.NewFromInt(int64(matched)))
	}
	return aggs, nil
}

func avg(value decimal.Decimal, qty int) decimal.Decimal {
	if qty == 0 {
		return decimal.Zero
	}
	return value.Div(decimal.NewFromInt(int64(qty)))
}

func (s *Summarizer) SummarizeToday() (string, error) {
	return s.SummarizeDay(s.now())
}

func (s *Summarizer) marketClose(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), s.closeHour, s.closeMin, 0, 0, s.loc)
}

func (s *Summarizer) ShouldRunNow() (bool, string) {
	now := s.now().In(s.loc)
	outPath := s.csvPath(now)
	if now.After(s.marketClose(now)) {
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}
