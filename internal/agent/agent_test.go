package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/stockagent/internal/agent/prompts"
	"github.com/seenimoa/stockagent/internal/frame"
	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/store"
	"github.com/seenimoa/stockagent/internal/transform"
)

// ── Fixtures ──

type fixture struct {
	prices, financials, metrics, news bool
	symbol                            string
}

func newStore(t *testing.T, fx fixture) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	if fx.prices {
		f, err := frame.FromRows([]string{"Date", "Close", "Volume"}, [][]frame.Cell{
			{frame.Str("2024-01-02"), frame.Num(100), frame.Num(1000)},
			{frame.Str("2024-01-03"), frame.Num(115), frame.Num(3000)},
		})
		require.NoError(t, err)
		require.NoError(t, st.WriteFrame(store.HistoricalPrices, f))
	}
	if fx.financials {
		f, err := frame.FromRows([]string{"Date", "Ticker", "Financial", "Value", "Statement_Type"}, [][]frame.Cell{
			{frame.Str("2023-09-30"), frame.Str("AAPL"), frame.Str("income_Total Revenue"), frame.Num(383285000000), frame.Str("income")},
		})
		require.NoError(t, err)
		require.NoError(t, st.WriteFrame(store.Financials, f))
	}
	if fx.metrics {
		f, err := frame.FromRows([]string{"symbol", "trailingPE"}, [][]frame.Cell{
			{frame.Str(fx.symbol), frame.Num(29.5)},
		})
		require.NoError(t, err)
		require.NoError(t, st.WriteFrame(store.Metrics, f))
	}
	if fx.news {
		require.NoError(t, st.WriteNews([]transform.NewsDocument{
			{ID: "1", Text: "Apple earnings beat estimates", Metadata: transform.NewsMetadata{Ticker: "AAPL", URL: "https://example.com/a"}},
			{ID: "2", Text: "Tesla deliveries slow", Metadata: transform.NewsMetadata{Ticker: "TSLA", URL: "https://example.com/t"}},
		}))
	}
	return st
}

// scriptedProvider plays both roles: with tools it drives the agent loop,
// without tools it answers query engine prompts.
type scriptedProvider struct {
	mu       sync.Mutex
	toolCall *llm.ToolCall // requested on the first agent turn
	loop     bool          // request the tool forever
	prompts  []string
}

func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Models() []string               { return nil }
func (p *scriptedProvider) Ping(ctx context.Context) error { return nil }

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts *llm.ChatOptions) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	last := messages[len(messages)-1]

	if len(tools) == 0 {
		p.prompts = append(p.prompts, last.Content)
		if strings.Contains(last.Content, "news articles") {
			return &llm.Response{Content: "Apple beat estimates (https://example.com/a)."}, nil
		}
		return &llm.Response{Content: "```python\ndf['Close'].mean()\n```"}, nil
	}

	if p.toolCall != nil && (p.loop || last.Role == llm.RoleUser) {
		return &llm.Response{ToolCalls: []llm.ToolCall{*p.toolCall}, FinishReason: llm.FinishToolCalls}, nil
	}
	if last.Role == llm.RoleTool {
		return &llm.Response{Content: fmt.Sprintf("The answer is %s. This is not financial advice.", last.Content), Usage: llm.Usage{TotalTokens: 42}}, nil
	}
	return &llm.Response{Content: "I can only analyse historical data."}, nil
}

func call(name, input string) *llm.ToolCall {
	args, _ := json.Marshal(map[string]string{"input": input})
	return &llm.ToolCall{ID: "call_1", Name: name, Arguments: args}
}

func noEnv(string) string { return "" }

// ════════════════════════════════════════════════════════════════════
// BuildTools
// ════════════════════════════════════════════════════════════════════

func TestBuildToolsAllTables(t *testing.T) {
	st := newStore(t, fixture{prices: true, financials: true, metrics: true, news: true, symbol: "aapl"})
	var out bytes.Buffer
	a := New(&scriptedProvider{}, st, WithGetenv(noEnv), WithOutput(&out))

	names, err := a.BuildTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prompts.ToolOrder, names)
	assert.Equal(t, "AAPL", a.NewsTicker())
	assert.Contains(t, out.String(), "Loading news for ticker: AAPL")

	for _, name := range names {
		assert.Contains(t, a.SystemPrompt(), name+":")
	}
	assert.Contains(t, a.SystemPrompt(), "not financial advice")
}

func TestBuildToolsSkipsMissingFiles(t *testing.T) {
	st := newStore(t, fixture{prices: true})
	a := New(&scriptedProvider{}, st, WithGetenv(noEnv))

	names, err := a.BuildTools(context.Background())
	require.NoError(t, err)
	// news.csv is missing, so the news tool answers with a placeholder
	assert.Equal(t, []string{prompts.ToolPriceData, prompts.ToolNews}, names)
	assert.NotContains(t, a.SystemPrompt(), prompts.ToolMetrics+":")

	out, err := a.registry.Execute(context.Background(), *call(prompts.ToolNews, "latest news?"))
	require.NoError(t, err)
	assert.Equal(t, "No recent news is available.", out)
}

func TestBuildToolsNoData(t *testing.T) {
	st := newStore(t, fixture{})
	a := New(&scriptedProvider{}, st, WithGetenv(noEnv))

	_, err := a.BuildTools(context.Background())
	assert.ErrorIs(t, err, ErrNoTools)
}

func TestNewsTickerResolution(t *testing.T) {
	t.Run("metrics symbol", func(t *testing.T) {
		st := newStore(t, fixture{metrics: true, symbol: "nvda"})
		a := New(&scriptedProvider{}, st, WithGetenv(func(string) string { return "TSLA" }))
		got, err := a.resolveNewsTicker()
		require.NoError(t, err)
		assert.Equal(t, "NVDA", got)
	})
	t.Run("environment", func(t *testing.T) {
		st := newStore(t, fixture{})
		env := func(k string) string {
			if k == TickerEnv {
				return "tsla"
			}
			return ""
		}
		a := New(&scriptedProvider{}, st, WithGetenv(env))
		got, err := a.resolveNewsTicker()
		require.NoError(t, err)
		assert.Equal(t, "TSLA", got)
	})
	t.Run("prompt", func(t *testing.T) {
		st := newStore(t, fixture{})
		a := New(&scriptedProvider{}, st, WithGetenv(noEnv), WithTickerPrompt(func() (string, error) { return " msft\n", nil }))
		got, err := a.resolveNewsTicker()
		require.NoError(t, err)
		assert.Equal(t, "MSFT", got)
	})
}

func TestNewsFilteredByTicker(t *testing.T) {
	st := newStore(t, fixture{news: true})
	a := New(&scriptedProvider{}, st, WithGetenv(noEnv))
	docs, err := a.loadNews(context.Background(), "TSLA")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2", docs[0].ID)
}

func TestNewsSourceUsedWhenFileMissing(t *testing.T) {
	st := newStore(t, fixture{prices: true})
	fetched := ""
	src := func(ctx context.Context, ticker string) ([]transform.NewsDocument, error) {
		fetched = ticker
		return []transform.NewsDocument{{ID: "x", Text: "Microsoft earnings"}}, nil
	}
	a := New(&scriptedProvider{}, st, WithGetenv(noEnv), WithNewsSource(src),
		WithTickerPrompt(func() (string, error) { return "msft", nil }))

	names, err := a.BuildTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MSFT", fetched)
	assert.Contains(t, names, prompts.ToolNews)
}

// ════════════════════════════════════════════════════════════════════
// Analyze
// ════════════════════════════════════════════════════════════════════

func TestAnalyzeUsesPriceTool(t *testing.T) {
	st := newStore(t, fixture{prices: true, metrics: true, symbol: "AAPL"})
	p := &scriptedProvider{toolCall: call(prompts.ToolPriceData, "What is the average closing price?")}
	var verbose bytes.Buffer
	a := New(p, st, WithGetenv(noEnv), WithVerbose(&verbose))
	_, err := a.BuildTools(context.Background())
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "What is the average closing price?")
	require.NoError(t, err)
	assert.Equal(t, "The answer is 107.5. This is not financial advice.", res.Content)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, 42, res.Tokens)
	require.NotEmpty(t, res.Messages)
	assert.Equal(t, llm.RoleSystem, res.Messages[0].Role)

	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "Query: What is the average closing price?")
	assert.Contains(t, verbose.String(), "Calling function: parse_price_data")
	assert.Contains(t, verbose.String(), "107.5")
}

func TestAnalyzeNewsTool(t *testing.T) {
	st := newStore(t, fixture{prices: true, metrics: true, news: true, symbol: "AAPL"})
	p := &scriptedProvider{toolCall: call(prompts.ToolNews, "Any earnings news?")}
	a := New(p, st, WithGetenv(noEnv), WithTopK(3))
	_, err := a.BuildTools(context.Background())
	require.NoError(t, err)

	got, err := a.Analyze(context.Background(), "Any earnings news?")
	require.NoError(t, err)
	assert.Contains(t, got, "https://example.com/a")
	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "Apple earnings beat estimates")
	assert.NotContains(t, p.prompts[0], "Tesla")
}

func TestAnalyzeFreshConversationEachTurn(t *testing.T) {
	st := newStore(t, fixture{prices: true})
	a := New(&scriptedProvider{}, st, WithGetenv(noEnv))
	_, err := a.BuildTools(context.Background())
	require.NoError(t, err)

	first, err := a.Run(context.Background(), "first")
	require.NoError(t, err)
	second, err := a.Run(context.Background(), "second")
	require.NoError(t, err)
	assert.Len(t, first.Messages, 3)
	assert.Len(t, second.Messages, 3)
	assert.Equal(t, "second", second.Messages[1].Content)
}

func TestAnalyzeIterationLimit(t *testing.T) {
	st := newStore(t, fixture{prices: true})
	p := &scriptedProvider{toolCall: call(prompts.ToolPriceData, "loop"), loop: true}
	a := New(p, st, WithGetenv(noEnv), WithMaxIterations(2))
	_, err := a.BuildTools(context.Background())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "loop forever")
	assert.ErrorIs(t, err, llm.ErrMaxIterations)
}

func TestAnalyzeWithoutTools(t *testing.T) {
	a := New(&scriptedProvider{}, newStore(t, fixture{}))
	_, err := a.Analyze(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoTools)
}

func TestObserveLogsOneEventPerCall(t *testing.T) {
	var buf bytes.Buffer
	a := New(&scriptedProvider{}, newStore(t, fixture{}), WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	a.observe(*call(prompts.ToolPriceData, "average close"), llm.ToolResult{Content: "107.5"})
	a.observe(*call(prompts.ToolPriceData, "bad"), llm.ToolResult{Err: errors.New("no such column")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ok, failed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))
	assert.Equal(t, "debug", ok["level"])
	assert.NotContains(t, ok, "error")
	assert.Equal(t, "warn", failed["level"])
	assert.Equal(t, "no such column", failed["error"])
	assert.Equal(t, map[string]any{"input": "bad"}, failed["args"])
}

// ════════════════════════════════════════════════════════════════════
// Arguments
// ════════════════════════════════════════════════════════════════════

func TestParseInput(t *testing.T) {
	tests := []struct {
		args    string
		want    string
		wantErr bool
	}{
		{`{"input": "average close"}`, "average close", false},
		{`{"query": "max volume"}`, "max volume", false},
		{`"latest revenue"`, "latest revenue", false},
		{`{"input": ""}`, "", true},
		{`{}`, "", true},
		{`not json`, "", true},
	}
	for _, tt := range tests {
		got, err := parseInput(json.RawMessage(tt.args))
		if tt.wantErr {
			assert.Error(t, err, tt.args)
			continue
		}
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.want, got)
	}
}
