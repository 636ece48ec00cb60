package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/seenimoa/stockagent/internal/agent/prompts"
	"github.com/seenimoa/stockagent/internal/dfquery"
	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/retrieval"
	"github.com/seenimoa/stockagent/internal/store"
	"github.com/seenimoa/stockagent/internal/transform"
)

// TickerEnv names the environment variable consulted for the news ticker.
const TickerEnv = "STOCK_TICKER"

// TickerPromptText is shown when the news ticker has to be asked for.
const TickerPromptText = "Enter the stock ticker for news analysis (must match the ticker used for the fetch): "

// tableTools maps each table tool to the file it queries.
var tableTools = []struct {
	name string
	file string
}{
	{prompts.ToolPriceData, store.HistoricalPrices},
	{prompts.ToolFinancialData, store.Financials},
	{prompts.ToolMetrics, store.Metrics},
}

// toolInput is the argument object every tool declares.
type toolInput struct {
	Input string `json:"input" jsonschema_description:"A natural language question"`
}

// inputSchema is the parameter schema shared by every tool.
var inputSchema = llm.MustSchemaFor(&toolInput{})

// ════════════════════════════════════════════════════════════════════
// Tool construction
// ════════════════════════════════════════════════════════════════════

// BuildTools registers one query tool per available table and the news
// tool, then builds the system prompt. Missing or unreadable files are
// logged and their tool skipped. It returns ErrNoTools when nothing could
// be registered.
func (a *StockAnalyzer) BuildTools(ctx context.Context) ([]string, error) {
	for _, t := range tableTools {
		f, err := a.store.ReadFrame(t.file)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				a.logger.Warn().Str("file", t.file).Msg(t.file + " not found. Run the fetch pipeline first.")
			} else {
				a.logger.Warn().Err(err).Str("file", t.file).Msg("cannot load table")
			}
			continue
		}
		opts := []dfquery.EngineOption{dfquery.WithName(t.file), dfquery.WithLogger(a.logger)}
		if a.verbose != nil {
			opts = append(opts, dfquery.WithVerbose(a.verbose))
		}
		engine := dfquery.NewEngine(a.provider, f, opts...)
		a.register(t.name, engine.Query)
		a.logger.Debug().Str("tool", t.name).Str("file", t.file).Int("rows", f.Len()).Msg("tool ready")
	}

	if err := a.buildNewsTool(ctx, a.registry.Count() > 0); err != nil {
		a.logger.Warn().Err(err).Msg("error building news tool")
	}

	if a.registry.Count() == 0 {
		return nil, ErrNoTools
	}
	names := a.Tools()
	a.systemPrompt = prompts.SystemPrompt(names)
	a.logger.Info().Strs("tools", names).Msg("agent tools built")
	return names, nil
}

// buildNewsTool registers the news tool. With no articles it registers a
// placeholder answering that no news is available, but only when
// placeholder is set so that news alone never hides missing tables.
func (a *StockAnalyzer) buildNewsTool(ctx context.Context, placeholder bool) error {
	ticker, err := a.resolveNewsTicker()
	if err != nil {
		return err
	}
	a.newsTicker = ticker
	announce(a.out, ticker)
	a.logger.Debug().Str("ticker", ticker).Msg("loading news")

	docs, err := a.loadNews(ctx, ticker)
	if err != nil {
		return err
	}

	var idxOpts []retrieval.IndexOption
	idxOpts = append(idxOpts, retrieval.WithIndexLogger(a.logger))
	if a.embedder != nil {
		idxOpts = append(idxOpts, retrieval.WithEmbedder(a.embedder))
	}
	index, err := retrieval.Build(ctx, docs, idxOpts...)
	if errors.Is(err, retrieval.ErrEmptyIndex) {
		if !placeholder {
			return err
		}
		a.logger.Warn().Str("ticker", ticker).Msg("no news found, registering placeholder news tool")
		answer := prompts.NoNews(ticker)
		a.register(prompts.ToolNews, func(context.Context, string) (string, error) { return answer, nil })
		return nil
	}
	if err != nil {
		return err
	}

	qopts := []retrieval.QueryOption{retrieval.WithTopK(a.topK), retrieval.WithLogger(a.logger)}
	if a.verbose != nil {
		qopts = append(qopts, retrieval.WithVerbose(a.verbose))
	}
	engine := retrieval.NewQueryEngine(index, a.provider, qopts...)
	a.register(prompts.ToolNews, engine.Query)
	return nil
}

// resolveNewsTicker takes the symbol column of metrics.csv, then the
// STOCK_TICKER variable, then asks the user.
func (a *StockAnalyzer) resolveNewsTicker() (string, error) {
	if f, err := a.store.ReadFrame(store.Metrics); err == nil && f.Len() > 0 && f.Has("symbol") {
		if sym := strings.TrimSpace(f.At(0, "symbol").Text()); sym != "" {
			return strings.ToUpper(sym), nil
		}
	}
	if sym := strings.TrimSpace(a.getenv(TickerEnv)); sym != "" {
		return strings.ToUpper(sym), nil
	}
	if a.tickerPrompt == nil {
		return "", nil
	}
	sym, err := a.tickerPrompt()
	if err != nil {
		return "", fmt.Errorf("agent: read news ticker: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(sym)), nil
}

// loadNews reads news.csv, keeping the articles for ticker. When the file is
// missing and a live source is configured, news is fetched instead.
func (a *StockAnalyzer) loadNews(ctx context.Context, ticker string) ([]transform.NewsDocument, error) {
	docs, err := a.store.ReadNews()
	if errors.Is(err, store.ErrNotFound) && a.newsSource != nil && ticker != "" {
		a.logger.Info().Str("ticker", ticker).Msg("news.csv not found, fetching news")
		return a.newsSource(ctx, ticker)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ticker == "" {
		return docs, nil
	}
	kept := docs[:0]
	for _, d := range docs {
		if d.Metadata.Ticker == "" || strings.EqualFold(d.Metadata.Ticker, ticker) {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

// ── Tool plumbing ──

func (a *StockAnalyzer) register(name string, query func(context.Context, string) (string, error)) {
	a.registry.RegisterFunc(name, prompts.Describe(name), inputSchema, func(ctx context.Context, args json.RawMessage) (string, error) {
		input, err := parseInput(args)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return query(ctx, input)
	})
}

// parseInput extracts the question from tool arguments. Besides the
// declared {"input": ...} object it accepts a "query" key and a bare JSON
// string, which some models send.
func parseInput(args json.RawMessage) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal(args, &obj); err == nil {
		for _, key := range []string{"input", "query", "question"} {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				return s, nil
			}
		}
		return "", errors.New(`missing "input" argument`)
	}
	var s string
	if err := json.Unmarshal(args, &s); err == nil && strings.TrimSpace(s) != "" {
		return s, nil
	}
	return "", fmt.Errorf("invalid tool arguments: %s", string(args))
}

// announce writes the resolved news ticker, as the interactive shell shows it.
func announce(w io.Writer, ticker string) {
	if w != nil && ticker != "" {
		fmt.Fprintf(w, "Loading news for ticker: %s\n", ticker)
	}
}
