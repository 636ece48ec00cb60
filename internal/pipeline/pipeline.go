// Package pipeline runs the data preparation pass: download prices,
// statements, profile and news for a ticker, shape them into tables, write
// them to the data directory and render the price chart.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/stockagent/internal/chart"
	"github.com/seenimoa/stockagent/internal/frame"
	"github.com/seenimoa/stockagent/internal/marketdata"
	"github.com/seenimoa/stockagent/internal/store"
	"github.com/seenimoa/stockagent/internal/transform"
)

// Fetcher is the market data API used by the pipeline. *marketdata.Client
// implements it.
type Fetcher interface {
	History(ctx context.Context, tickers []string, start, end time.Time) (*frame.Frame, error)
	Info(ctx context.Context, ticker string) (map[string]any, error)
	Statements(ctx context.Context, ticker string) (marketdata.Statements, error)
	News(ctx context.Context, ticker string) ([]marketdata.NewsItem, error)
}

// Request selects what to fetch.
type Request struct {
	Ticker string
	Years  int
}

// Output describes what a run wrote.
type Output struct {
	Ticker    string
	Files     []string // full paths, in write order
	Chart     string   // chart path, empty when no chart was drawn
	PriceRows int
	Financial int
	News      int
}

// Pipeline fetches, transforms and persists the tables for one ticker.
type Pipeline struct {
	fetcher Fetcher
	store   *store.Store
	tickers []string
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTickers sets the watch list downloaded alongside the requested ticker.
func WithTickers(tickers []string) Option {
	return func(p *Pipeline) { p.tickers = tickers }
}

// WithClock sets the clock used for the lookback window.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline writing into st.
func New(fetcher Fetcher, st *store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		store:   st,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Tickers returns the download list for ticker: the watch list with ticker
// appended when it is not already on it.
func (p *Pipeline) Tickers(ticker string) []string {
	out := make([]string, 0, len(p.tickers)+1)
	found := false
	for _, t := range p.tickers {
		out = append(out, t)
		if t == ticker {
			found = true
		}
	}
	if !found {
		out = append(out, ticker)
	}
	return out
}

// Run executes the whole pass. Any fetch, transform or write error stops
// the run and is returned. When the ticker has no usable closes the chart
// is skipped with a warning.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Output, error) {
	sym, err := marketdata.NormalizeTicker(req.Ticker)
	if err != nil {
		return nil, err
	}
	start, end, err := marketdata.Lookback(req.Years, p.now())
	if err != nil {
		return nil, err
	}
	out := &Output{Ticker: sym}
	log := p.logger.With().Str("ticker", sym).Int("years", req.Years).Logger()

	// ── Prices ──

	all, err := p.fetcher.History(ctx, p.Tickers(sym), start, end)
	if err != nil {
		return nil, fmt.Errorf("pipeline: prices: %w", err)
	}
	if err := p.write(out, store.AllPrices, all); err != nil {
		return nil, err
	}
	prices, err := transform.SelectTicker(all, sym)
	if err != nil {
		return nil, fmt.Errorf("pipeline: prices: %w", err)
	}
	out.PriceRows = prices.Len()
	if err := p.write(out, store.HistoricalPrices, prices); err != nil {
		return nil, err
	}

	svg, err := chart.PriceChart(prices, sym, req.Years)
	if err != nil {
		log.Warn().Err(err).Msg("skipping chart")
	} else {
		path, err := p.store.WriteFile(chart.FileName(sym), []byte(svg))
		if err != nil {
			return nil, err
		}
		out.Chart = path
		out.Files = append(out.Files, path)
	}

	// ── Fundamentals and news ──

	var (
		info  map[string]any
		stmts marketdata.Statements
		items []marketdata.NewsItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = p.fetcher.News(gctx, sym)
		if err != nil {
			return fmt.Errorf("pipeline: news: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		stmts, err = p.fetcher.Statements(gctx, sym)
		if err != nil {
			return fmt.Errorf("pipeline: financials: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		info, err = p.fetcher.Info(gctx, sym)
		if err != nil {
			return fmt.Errorf("pipeline: info: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := transform.NewsDocuments(sym, items)
	out.News = len(docs)
	if err := p.write(out, store.News, transform.NewsFrame(docs)); err != nil {
		return nil, err
	}

	financials, err := transform.Financials(sym, stmts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: financials: %w", err)
	}
	out.Financial = financials.Len()
	if err := p.write(out, store.Financials, financials); err != nil {
		return nil, err
	}

	infoFrame := transform.InfoFrame(info)
	if err := p.write(out, store.Info, infoFrame); err != nil {
		return nil, err
	}
	if err := p.write(out, store.Metrics, transform.Metrics(infoFrame)); err != nil {
		return nil, err
	}

	log.Info().
		Int("price_rows", out.PriceRows).
		Int("financial_rows", out.Financial).
		Int("news", out.News).
		Msg("pipeline complete")
	return out, nil
}

// News fetches and converts news for ticker without touching the store.
func (p *Pipeline) News(ctx context.Context, ticker string) ([]transform.NewsDocument, error) {
	sym, err := marketdata.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	items, err := p.fetcher.News(ctx, sym)
	if err != nil {
		return nil, fmt.Errorf("pipeline: news: %w", err)
	}
	return transform.NewsDocuments(sym, items), nil
}

func (p *Pipeline) write(out *Output, name string, f *frame.Frame) error {
	if err := p.store.WriteFrame(name, f); err != nil {
		return err
	}
	out.Files = append(out.Files, p.store.Path(name))
	return nil
}
