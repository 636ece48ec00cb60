package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/seenimoa/stockagent/internal/agent"
	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/marketdata"
	"github.com/seenimoa/stockagent/internal/pipeline"
	"github.com/seenimoa/stockagent/internal/shell"
	"github.com/seenimoa/stockagent/internal/store"
)

func newShell() *shell.Shell {
	return shell.New(os.Stdin, os.Stdout, shell.WithLogger(logger))
}

func newMarketClient() *marketdata.Client {
	return marketdata.New(
		marketdata.WithRateLimit(cfg.Market.RequestsPerSecond),
		marketdata.WithConcurrency(cfg.Market.Concurrency),
		marketdata.WithNewsCount(cfg.Market.NewsCount),
		marketdata.WithRSSFallback(cfg.Market.RSSFallback),
		marketdata.WithTimeout(time.Duration(cfg.Market.TimeoutSec)*time.Second),
		marketdata.WithLogger(logger.With().Str("component", "marketdata").Logger()),
	)
}

func newPipeline(st *store.Store) *pipeline.Pipeline {
	return pipeline.New(newMarketClient(), st,
		pipeline.WithTickers(cfg.Market.Tickers),
		pipeline.WithLogger(logger.With().Str("component", "pipeline").Logger()),
	)
}

// newAnalyzer builds the agent and its tools. A non-empty ticker overrides
// the STOCK_TICKER environment variable for news ticker resolution.
func newAnalyzer(ctx context.Context, st *store.Store, sh *shell.Shell, pl *pipeline.Pipeline, ticker string) (*agent.StockAnalyzer, error) {
	provider, err := llm.NewFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	opts := []agent.Option{
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithTopK(cfg.Agent.TopK),
		agent.WithNewsSource(pl.News),
		agent.WithTickerPrompt(func() (string, error) {
			return sh.Ask(agent.TickerPromptText)
		}),
		agent.WithOutput(os.Stdout),
		agent.WithLogger(logger.With().Str("component", "agent").Logger()),
	}
	if emb, ok := llm.NewEmbedderFromConfig(cfg.LLM); ok {
		opts = append(opts, agent.WithEmbedder(emb))
	}
	if cfg.Agent.Verbose {
		opts = append(opts, agent.WithVerbose(os.Stdout))
	}
	if ticker = strings.TrimSpace(ticker); ticker != "" {
		opts = append(opts, agent.WithGetenv(func(key string) string {
			if key == agent.TickerEnv {
				return ticker
			}
			return os.Getenv(key)
		}))
	}

	a := agent.New(provider, st, opts...)
	tools, err := a.BuildTools(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("provider", provider.Name()).Strs("tools", tools).Msg("agent ready")
	return a, nil
}
