// Package agent assembles the stock analysis agent: one query tool per
// persisted table, a news tool, and the tool-calling loop that answers a
// user prompt with them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/stockagent/internal/agent/prompts"
	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/store"
	"github.com/seenimoa/stockagent/internal/transform"
)

// DefaultMaxIterations bounds the model calls made for one prompt.
const DefaultMaxIterations = 30

// ErrNoTools is returned by BuildTools when no data file could back a tool.
var ErrNoTools = errors.New("agent: no data files found; run the fetch pipeline first")

// ── Result ──

// Result holds the outcome of one analysed prompt.
type Result struct {
	Content   string        `json:"content"`
	ToolCalls int           `json:"tool_calls"`
	Tokens    int           `json:"tokens"`
	Duration  time.Duration `json:"duration"`
	Messages  []llm.Message `json:"messages"`
}

// NewsSource fetches news for a ticker when news.csv is not available.
type NewsSource func(ctx context.Context, ticker string) ([]transform.NewsDocument, error)

// ── StockAnalyzer ──

// StockAnalyzer answers questions about one stock from its persisted tables
// and news.
type StockAnalyzer struct {
	provider      llm.LLMProvider
	store         *store.Store
	registry      *llm.ToolRegistry
	systemPrompt  string
	opts          *llm.ChatOptions
	maxIterations int
	topK          int
	embedder      llm.Embedder
	newsSource    NewsSource
	tickerPrompt  func() (string, error)
	getenv        func(string) string
	logger        zerolog.Logger
	verbose       io.Writer
	out           io.Writer
	newsTicker    string
}

// Option configures a StockAnalyzer.
type Option func(*StockAnalyzer)

// WithMaxIterations sets the tool loop bound.
func WithMaxIterations(n int) Option {
	return func(a *StockAnalyzer) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithTopK sets how many news articles the news tool retrieves.
func WithTopK(k int) Option {
	return func(a *StockAnalyzer) { a.topK = k }
}

// WithChatOptions overrides model settings for every request.
func WithChatOptions(opts *llm.ChatOptions) Option {
	return func(a *StockAnalyzer) { a.opts = opts }
}

// WithEmbedder ranks news by embedding similarity.
func WithEmbedder(e llm.Embedder) Option {
	return func(a *StockAnalyzer) { a.embedder = e }
}

// WithNewsSource fetches news live when news.csv is missing.
func WithNewsSource(src NewsSource) Option {
	return func(a *StockAnalyzer) { a.newsSource = src }
}

// WithTickerPrompt asks the user for the news ticker when neither
// metrics.csv nor STOCK_TICKER names one.
func WithTickerPrompt(fn func() (string, error)) Option {
	return func(a *StockAnalyzer) { a.tickerPrompt = fn }
}

// WithGetenv replaces os.Getenv for ticker resolution.
func WithGetenv(fn func(string) string) Option {
	return func(a *StockAnalyzer) { a.getenv = fn }
}

// WithLogger sets the agent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *StockAnalyzer) { a.logger = l }
}

// WithVerbose echoes tool calls and query engine steps to w.
func WithVerbose(w io.Writer) Option {
	return func(a *StockAnalyzer) { a.verbose = w }
}

// WithOutput receives user-facing status lines such as the resolved news
// ticker.
func WithOutput(w io.Writer) Option {
	return func(a *StockAnalyzer) { a.out = w }
}

// New creates an analyzer over the tables in st. Call BuildTools before
// Analyze.
func New(provider llm.LLMProvider, st *store.Store, opts ...Option) *StockAnalyzer {
	a := &StockAnalyzer{
		provider:      provider,
		store:         st,
		registry:      llm.NewToolRegistry(),
		maxIterations: DefaultMaxIterations,
		getenv:        os.Getenv,
		logger:        zerolog.Nop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Tools returns the names of the registered tools in registration order.
func (a *StockAnalyzer) Tools() []string {
	names := make([]string, 0, a.registry.Count())
	for _, name := range prompts.ToolOrder {
		if _, ok := a.registry.Get(name); ok {
			names = append(names, name)
		}
	}
	return names
}

// SystemPrompt returns the system prompt built for the registered tools.
func (a *StockAnalyzer) SystemPrompt() string { return a.systemPrompt }

// NewsTicker returns the ticker the news tool was built for.
func (a *StockAnalyzer) NewsTicker() string { return a.newsTicker }

// Analyze answers one prompt and returns the final text.
func (a *StockAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	res, err := a.Run(ctx, prompt)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// Run answers one prompt in a fresh conversation: the system prompt and the
// user prompt, followed by as many tool rounds as the model needs.
func (a *StockAnalyzer) Run(ctx context.Context, prompt string) (*Result, error) {
	if a.registry.Count() == 0 {
		return nil, ErrNoTools
	}
	start := time.Now()
	messages := []llm.Message{
		llm.SystemMessage(a.systemPrompt),
		llm.UserMessage(prompt),
	}

	var loopOpts []llm.LoopOption
	loopOpts = append(loopOpts, llm.WithObserver(a.observe))

	resp, finalMsgs, err := llm.RunToolLoop(ctx, a.provider, a.registry, messages, a.opts, a.maxIterations, loopOpts...)
	if err != nil {
		a.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("analysis failed")
		return nil, fmt.Errorf("agent: analyze: %w", err)
	}

	toolCalls := 0
	for _, msg := range finalMsgs {
		toolCalls += len(msg.ToolCalls)
	}
	res := &Result{
		Content:   strings.TrimSpace(resp.Content),
		ToolCalls: toolCalls,
		Tokens:    resp.Usage.TotalTokens,
		Duration:  time.Since(start),
		Messages:  finalMsgs,
	}
	a.logger.Debug().
		Int("tool_calls", res.ToolCalls).
		Int("tokens", res.Tokens).
		Dur("elapsed", res.Duration).
		Msg("analysis complete")
	return res, nil
}

func (a *StockAnalyzer) observe(call llm.ToolCall, result llm.ToolResult) {
	level := zerolog.DebugLevel
	if result.Err != nil {
		level = zerolog.WarnLevel
	}
	a.logger.WithLevel(level).
		Str("tool", call.Name).
		RawJSON("args", rawArgs(call.Arguments)).
		Err(result.Err).
		Msg("tool call")
	if a.verbose != nil {
		fmt.Fprintf(a.verbose, "=== Calling Function ===\nCalling function: %s with args: %s\n", call.Name, string(call.Arguments))
		out := result.Content
		if result.Err != nil {
			out = result.Err.Error()
		}
		fmt.Fprintf(a.verbose, "=== Function Output ===\n%s\n", out)
	}
}

func rawArgs(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
