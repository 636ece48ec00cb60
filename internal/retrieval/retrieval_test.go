package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/transform"
)

func newsDocs() []transform.NewsDocument {
	return []transform.NewsDocument{
		{
			ID:   "1",
			Text: "Apple unveils new iPhone lineup\n\nThe company showed three phones at its event.",
			Metadata: transform.NewsMetadata{
				Source: "Reuters", Ticker: "AAPL", URL: "https://example.com/iphone", PublishedAt: "2024-09-10 17:00:00",
			},
		},
		{
			ID:   "2",
			Text: "Apple earnings beat estimates on services growth\n\nQuarterly revenue rose 6%.",
			Metadata: transform.NewsMetadata{
				Source: "Bloomberg", Ticker: "AAPL", URL: "https://example.com/earnings", PublishedAt: "2024-08-01 21:00:00",
			},
		},
		{
			ID:   "3",
			Text: "EU opens antitrust investigation into App Store",
			Metadata: transform.NewsMetadata{
				Source: "FT", Ticker: "AAPL", URL: "https://example.com/eu",
			},
		},
	}
}

// keywordEmbedder maps text onto a fixed vocabulary.
type keywordEmbedder struct {
	vocab []string
	err   error
	calls int
}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, len(e.vocab))
		lower := strings.ToLower(t)
		for j, w := range e.vocab {
			if strings.Contains(lower, w) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

type scriptedProvider struct {
	reply  string
	err    error
	prompt string
}

func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Models() []string               { return nil }
func (p *scriptedProvider) Ping(ctx context.Context) error { return nil }

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts *llm.ChatOptions) (*llm.Response, error) {
	p.prompt = messages[len(messages)-1].Content
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.reply}, nil
}

// ════════════════════════════════════════════════════════════════════
// Index
// ════════════════════════════════════════════════════════════════════

func TestBuildEmpty(t *testing.T) {
	_, err := Build(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestLexicalSearch(t *testing.T) {
	ix, err := Build(context.Background(), newsDocs())
	require.NoError(t, err)
	assert.Equal(t, ModeLexical, ix.Mode())
	assert.Equal(t, 3, ix.Len())

	results, err := ix.Search(context.Background(), "What did the earnings report say?", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].Document.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestLexicalSearchNoMatchReturnsFirstK(t *testing.T) {
	ix, err := Build(context.Background(), newsDocs())
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), "zebra", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].Document.ID)
	assert.Equal(t, "2", results[1].Document.ID)
}

func TestEmbeddingSearch(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"iphone", "earnings", "antitrust", "investigation"}}
	ix, err := Build(context.Background(), newsDocs(), WithEmbedder(e))
	require.NoError(t, err)
	assert.Equal(t, ModeEmbedding, ix.Mode())

	results, err := ix.Search(context.Background(), "any antitrust investigation?", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "3", results[0].Document.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, 2, e.calls)
}

func TestEmbeddingFailureFallsBackToLexical(t *testing.T) {
	e := &keywordEmbedder{err: errors.New("quota exceeded")}
	ix, err := Build(context.Background(), newsDocs(), WithEmbedder(e))
	require.NoError(t, err)
	assert.Equal(t, ModeLexical, ix.Mode())

	results, err := ix.Search(context.Background(), "iphone", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "1", results[0].Document.ID)
	assert.Equal(t, 1, e.calls)
}

func TestQueryEmbeddingFailureFallsBackToLexical(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"iphone", "earnings", "antitrust"}}
	ix, err := Build(context.Background(), newsDocs(), WithEmbedder(e))
	require.NoError(t, err)
	require.Equal(t, ModeEmbedding, ix.Mode())

	e.err = errors.New("rate limited")
	results, err := ix.Search(context.Background(), "earnings", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].Document.ID)
	assert.Equal(t, 2, e.calls)
}

func TestSearchCancelled(t *testing.T) {
	ix, err := Build(context.Background(), newsDocs())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ix.Search(ctx, "iphone", 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenizeDropsStopwords(t *testing.T) {
	assert.Equal(t, []string{"apple", "earnings", "q3"}, tokenize("What is the Apple earnings, for Q3?"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, cosine([]float64{0, 0}, []float64{1, 2}))
}

// ════════════════════════════════════════════════════════════════════
// Query engine
// ════════════════════════════════════════════════════════════════════

func TestQueryEngineCitesArticles(t *testing.T) {
	ix, err := Build(context.Background(), newsDocs())
	require.NoError(t, err)
	p := &scriptedProvider{reply: "  Apple beat estimates (https://example.com/earnings).  "}
	now := func() time.Time { return time.Date(2024, 9, 11, 0, 0, 0, 0, time.UTC) }
	q := NewQueryEngine(ix, p, WithTopK(2), WithClock(now))

	got, err := q.Query(context.Background(), "How were the latest earnings?")
	require.NoError(t, err)
	assert.Equal(t, "Apple beat estimates (https://example.com/earnings).", got)

	assert.Contains(t, p.prompt, "[1] Title: Apple earnings beat estimates on services growth")
	assert.Contains(t, p.prompt, "URL: https://example.com/earnings")
	assert.Contains(t, p.prompt, "Source: Bloomberg")
	assert.Contains(t, p.prompt, "Quarterly revenue rose 6%.")
	assert.Contains(t, p.prompt, "Query: How were the latest earnings?")
	assert.Contains(t, p.prompt, "Overall tone across 1 article(s)")
}

func TestQueryEngineProviderError(t *testing.T) {
	ix, err := Build(context.Background(), newsDocs())
	require.NoError(t, err)
	q := NewQueryEngine(ix, &scriptedProvider{err: llm.ErrProviderDown})

	_, err = q.Query(context.Background(), "news?")
	assert.ErrorIs(t, err, llm.ErrProviderDown)
}

func TestContextTone(t *testing.T) {
	q := NewQueryEngine(nil, nil)
	text := q.Context([]Result{{Document: newsDocs()[2]}})
	assert.Contains(t, text, "Tone: Bearish")
	assert.NotContains(t, text, "Published:")
}
