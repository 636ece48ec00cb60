package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/stockagent/internal/frame"
)

// PriceFields is the column order of a price frame after the Date column.
var PriceFields = []string{"Open", "High", "Low", "Close", "Volume"}

// Bar is one daily candle. Missing values are NaN.
type Bar struct {
	Date   string // YYYY-MM-DD in exchange time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// --- Yahoo Finance v8 chart API types ---

type yfChartResponse struct {
	Chart struct {
		Result []yfChartResult `json:"result"`
		Error  *yfError        `json:"error"`
	} `json:"chart"`
}

type yfChartResult struct {
	Meta       yfChartMeta  `json:"meta"`
	Timestamp  []int64      `json:"timestamp"`
	Indicators yfIndicators `json:"indicators"`
}

type yfChartMeta struct {
	Symbol    string `json:"symbol"`
	Currency  string `json:"currency"`
	GMTOffset int64  `json:"gmtoffset"`
}

type yfIndicators struct {
	Quote    []yfOHLCV    `json:"quote"`
	AdjClose []yfAdjClose `json:"adjclose"`
}

type yfOHLCV struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

type yfAdjClose struct {
	AdjClose []*float64 `json:"adjclose"`
}

// Lookback returns the [start, end) window covering the given number of
// years before now, counting a year as 365 days.
func Lookback(years int, now time.Time) (time.Time, time.Time, error) {
	if years <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("marketdata: years must be positive, got %d", years)
	}
	return now.AddDate(0, 0, -365*years), now, nil
}

// Bars downloads daily candles for one ticker. Prices are split and
// dividend adjusted when Yahoo supplies an adjusted close.
func (c *Client) Bars(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error) {
	sym, err := NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("period1", fmt.Sprint(start.Unix()))
	q.Set("period2", fmt.Sprint(end.Unix()))
	q.Set("interval", "1d")
	q.Set("includeAdjustedClose", "true")
	q.Set("events", "div,split")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.query2, url.PathEscape(sym), q.Encode())

	var resp yfChartResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", sym, err)
	}
	if err := resp.Chart.Error.err(sym); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sym)
	}
	bars := parseCandles(resp.Chart.Result[0])
	c.logger.Debug().Str("ticker", sym).Int("bars", len(bars)).Msg("downloaded price history")
	return bars, nil
}

// History downloads daily candles for every ticker and joins them into one
// wide frame: Date, then <Field>_<TICKER> for each field in PriceFields and
// each ticker in the given order. Dates are the union across tickers,
// ascending. Tickers are fetched concurrently; the first error cancels the
// rest and is returned.
func (c *Client) History(ctx context.Context, tickers []string, start, end time.Time) (*frame.Frame, error) {
	syms := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		sym, err := NormalizeTicker(t)
		if err != nil {
			return nil, err
		}
		if !seen[sym] {
			seen[sym] = true
			syms = append(syms, sym)
		}
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("%w: no tickers", ErrInvalidTicker)
	}

	results := make([][]Bar, len(syms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, sym := range syms {
		g.Go(func() error {
			bars, err := c.Bars(gctx, sym, start, end)
			if err != nil {
				return err
			}
			results[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Info().Int("tickers", len(syms)).
		Str("start", start.Format(time.DateOnly)).
		Str("end", end.Format(time.DateOnly)).
		Msg("downloaded price history")
	return joinBars(syms, results), nil
}

// joinBars builds the wide multi-ticker frame.
func joinBars(syms []string, results [][]Bar) *frame.Frame {
	byDate := make([]map[string]Bar, len(syms))
	dateSet := make(map[string]bool)
	for i, bars := range results {
		byDate[i] = make(map[string]Bar, len(bars))
		for _, b := range bars {
			byDate[i][b.Date] = b
			dateSet[b.Date] = true
		}
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	f := frame.New()
	dateCells := make([]frame.Cell, len(dates))
	for k, d := range dates {
		dateCells[k] = frame.Str(d)
	}
	_ = f.AddColumn("Date", dateCells)

	for _, field := range PriceFields {
		for i, sym := range syms {
			cells := make([]frame.Cell, len(dates))
			for k, d := range dates {
				b, ok := byDate[i][d]
				if !ok {
					cells[k] = frame.Null()
					continue
				}
				cells[k] = frame.Num(b.field(field))
			}
			_ = f.AddColumn(field+"_"+sym, cells)
		}
	}
	return f
}

func (b Bar) field(name string) float64 {
	switch name {
	case "Open":
		return b.Open
	case "High":
		return b.High
	case "Low":
		return b.Low
	case "Close":
		return b.Close
	case "Volume":
		return b.Volume
	}
	return math.NaN()
}

// --- Helpers ---

func parseCandles(result yfChartResult) []Bar {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}

	q := result.Indicators.Quote[0]
	var adjCloses []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		b := Bar{
			Date:   time.Unix(ts+result.Meta.GMTOffset, 0).UTC().Format(time.DateOnly),
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  at(q.Close, i),
			Volume: at(q.Volume, i),
		}
		if adj := at(adjCloses, i); !math.IsNaN(adj) && !math.IsNaN(b.Close) && b.Close != 0 {
			ratio := adj / b.Close
			b.Open *= ratio
			b.High *= ratio
			b.Low *= ratio
			b.Close = adj
		}
		bars = append(bars, b)
	}
	return bars
}

func at(vals []*float64, i int) float64 {
	if i < len(vals) && vals[i] != nil {
		return *vals[i]
	}
	return math.NaN()
}
