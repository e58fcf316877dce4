// Package screener scrapes a "top gainers" HTML table into scan results. It
// stands in for a venue-side market scanner on venues that have none.
package screener

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/store"
	"momentum-bot/internal/types"
)

// Config describes where the table lives and which zero-based column holds
// each field. A negative column means the page does not report it.
type Config struct {
	URL          string
	RowSelector  string
	SymbolCol    int
	PriceCol     int
	VolumeCol    int
	MarketCapCol int
	UserAgent    string
	Timeout      time.Duration
}

func ConfigFromStore(cfg *store.Config) Config {
	s := cfg.Screener
	return Config{
		URL:          s.URL,
		RowSelector:  s.RowSelector,
		SymbolCol:    s.SymbolCol,
		PriceCol:     s.PriceCol,
		VolumeCol:    s.VolumeCol,
		MarketCapCol: s.MarketCapCol,
		UserAgent:    s.UserAgent,
		Timeout:      s.Timeout,
	}
}

type Screener struct {
	cfg Config
}

var _ interfaces.Screener = (*Screener)(nil)

func New(cfg Config) *Screener {
	return &Screener{cfg: cfg}
}

// Scan fetches the table once and returns the rows that pass filter, in
// page order, capped at filter.MaxRows.
func (s *Screener) Scan(ctx context.Context, filter types.ScanFilter) ([]types.ScanResult, error) {
	if s.cfg.URL == "" {
		return nil, errors.New("screener url not configured")
	}

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.Async(false),
	)
	if s.cfg.Timeout > 0 {
		c.SetRequestTimeout(s.cfg.Timeout)
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if s.cfg.UserAgent != "" {
			r.Headers.Set("User-Agent", s.cfg.UserAgent)
		}
	})

	var (
		rows    []types.ScanResult
		matched int
		seen    = make(map[string]bool)
	)
	c.OnHTML(s.cfg.RowSelector, func(e *colly.HTMLElement) {
		matched++
		cells := e.DOM.Find("td")
		r, ok := s.parseRow(cells)
		if !ok || seen[r.Symbol] {
			return
		}
		seen[r.Symbol] = true
		if !filter.Accepts(r) {
			return
		}
		if filter.MaxRows > 0 && len(rows) >= filter.MaxRows {
			return
		}
		r.Rank = len(rows)
		rows = append(rows, r)
	})

	var scrapeErr error
	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("fetch %s: status %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(s.cfg.URL); err != nil && scrapeErr == nil {
		scrapeErr = fmt.Errorf("visit %s: %w", s.cfg.URL, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scrapeErr != nil {
		return nil, scrapeErr
	}
	if matched == 0 {
		logger.Warn(ctx, "Screener page had no rows; check row_selector", "url", s.cfg.URL, "selector", s.cfg.RowSelector)
	}
	logger.Debug(ctx, "Screener scan parsed", "rows", matched, "accepted", len(rows))
	return rows, nil
}

func (s *Screener) parseRow(cells *goquery.Selection) (types.ScanResult, bool) {
	text := func(col int) string {
		if col < 0 || col >= cells.Length() {
			return ""
		}
		return strings.TrimSpace(cells.Eq(col).Text())
	}

	fields := strings.Fields(text(s.cfg.SymbolCol))
	if len(fields) == 0 {
		return types.ScanResult{}, false
	}
	return types.ScanResult{
		Symbol:    strings.ToUpper(fields[0]),
		Price:     parseNumber(text(s.cfg.PriceCol)),
		Volume:    parseNumber(text(s.cfg.VolumeCol)),
		MarketCap: parseNumber(text(s.cfg.MarketCapCol)),
	}, true
}

// parseNumber reads table figures like "4.52", "$1,234.5", "12.3M" or
// "1.1B". Anything unreadable is zero, which the filter treats as unknown.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$₹+")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "-" || s == "N/A" {
		return 0
	}

	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1e3
	case 'M', 'm':
		mult = 1e6
	case 'B', 'b':
		mult = 1e9
	case 'T', 't':
		mult = 1e12
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * mult
}
