package retrieval

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/stockagent/internal/agent/prompts"
	"github.com/seenimoa/stockagent/internal/analysis/sentiment"
	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/transform"
)

// DefaultTopK is how many articles are retrieved per question.
const DefaultTopK = 3

// QueryEngine answers questions from the most relevant indexed articles.
type QueryEngine struct {
	index    *Index
	provider llm.LLMProvider
	topK     int
	now      func() time.Time
	logger   zerolog.Logger
	verbose  io.Writer
}

// QueryOption configures a QueryEngine.
type QueryOption func(*QueryEngine)

// WithTopK sets how many articles are retrieved.
func WithTopK(k int) QueryOption {
	return func(q *QueryEngine) {
		if k > 0 {
			q.topK = k
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) QueryOption {
	return func(q *QueryEngine) { q.logger = l }
}

// WithVerbose echoes the retrieved articles to w.
func WithVerbose(w io.Writer) QueryOption {
	return func(q *QueryEngine) { q.verbose = w }
}

// WithClock sets the clock used to weight article tone by age.
func WithClock(now func() time.Time) QueryOption {
	return func(q *QueryEngine) { q.now = now }
}

// NewQueryEngine creates a query engine over index.
func NewQueryEngine(index *Index, provider llm.LLMProvider, opts ...QueryOption) *QueryEngine {
	q := &QueryEngine{
		index:    index,
		provider: provider,
		topK:     DefaultTopK,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Query retrieves the top articles for question and asks the model to
// answer from them alone.
func (q *QueryEngine) Query(ctx context.Context, question string) (string, error) {
	results, err := q.index.Search(ctx, question, q.topK)
	if err != nil {
		return "", err
	}
	q.logger.Debug().Int("articles", len(results)).Str("mode", q.index.Mode()).Msg("news retrieved")

	contextText := q.Context(results)
	if q.verbose != nil {
		fmt.Fprintf(q.verbose, "> Retrieved %d article(s):\n%s\n", len(results), contextText)
	}

	answer, err := llm.Complete(ctx, q.provider, "", prompts.NewsAnswer(contextText, question))
	if err != nil {
		return "", fmt.Errorf("retrieval: answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// Context renders retrieved articles as numbered blocks with their title,
// source, date, URL, tone and text, followed by the overall tone.
func (q *QueryEngine) Context(results []Result) string {
	docs := make([]transform.NewsDocument, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	ticker := ""
	if len(docs) > 0 {
		ticker = docs[0].Metadata.Ticker
	}
	scores, agg := sentiment.Documents(ticker, docs, q.now())

	var b strings.Builder
	for i, d := range docs {
		m := d.Metadata
		fmt.Fprintf(&b, "[%d] Title: %s\n", i+1, d.Title())
		if m.Source != "" {
			fmt.Fprintf(&b, "Source: %s\n", m.Source)
		}
		if m.PublishedAt != "" {
			fmt.Fprintf(&b, "Published: %s\n", m.PublishedAt)
		}
		if m.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", m.URL)
		}
		fmt.Fprintf(&b, "Tone: %s\n", scores[i].Label)
		if _, body, ok := strings.Cut(d.Text, "\n"); ok && strings.TrimSpace(body) != "" {
			fmt.Fprintf(&b, "%s\n", strings.TrimSpace(body))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Overall tone across %d article(s): %s", agg.ArticleCount, agg.Label)
	return b.String()
}
