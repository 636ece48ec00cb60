// Package retrieval indexes news documents and answers questions from the
// most relevant ones. Documents are ranked by embedding similarity when an
// embedder is available and by BM25 otherwise.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/transform"
)

// ErrEmptyIndex is returned when an index is built from no documents.
var ErrEmptyIndex = errors.New("retrieval: no documents to index")

// Ranking modes.
const (
	ModeEmbedding = "embedding"
	ModeLexical   = "bm25"
)

// Result is a retrieved document with its relevance score.
type Result struct {
	Document transform.NewsDocument
	Score    float64
}

// Index ranks news documents against a query.
type Index struct {
	docs     []transform.NewsDocument
	embedder llm.Embedder
	vectors  [][]float64
	lexical  *bm25
	logger   zerolog.Logger
}

// IndexOption configures Build.
type IndexOption func(*Index)

// WithEmbedder ranks by embedding similarity.
func WithEmbedder(e llm.Embedder) IndexOption {
	return func(ix *Index) { ix.embedder = e }
}

// WithIndexLogger sets the index logger.
func WithIndexLogger(l zerolog.Logger) IndexOption {
	return func(ix *Index) { ix.logger = l }
}

// Build indexes docs. When embedding the documents fails the index logs a
// warning and falls back to BM25.
func Build(ctx context.Context, docs []transform.NewsDocument, opts ...IndexOption) (*Index, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyIndex
	}
	ix := &Index{docs: docs, logger: zerolog.Nop()}
	for _, o := range opts {
		o(ix)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	ix.lexical = newBM25(texts)

	if ix.embedder != nil {
		vecs, err := ix.embedder.Embed(ctx, texts)
		switch {
		case err != nil:
			ix.logger.Warn().Err(err).Msg("embedding news failed, using bm25")
			ix.embedder = nil
		case len(vecs) != len(docs):
			ix.logger.Warn().Int("docs", len(docs)).Int("vectors", len(vecs)).Msg("embedding count mismatch, using bm25")
			ix.embedder = nil
		default:
			ix.vectors = vecs
		}
	}
	ix.logger.Debug().Int("docs", len(docs)).Str("mode", ix.Mode()).Msg("news index built")
	return ix, nil
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Mode reports how documents are ranked.
func (ix *Index) Mode() string {
	if ix.vectors != nil {
		return ModeEmbedding
	}
	return ModeLexical
}

// embeddingScores ranks documents by cosine similarity to the query. It
// returns nil when the index is lexical or the query cannot be embedded.
func (ix *Index) embeddingScores(ctx context.Context, query string) []float64 {
	if ix.vectors == nil {
		return nil
	}
	qv, err := ix.embedder.Embed(ctx, []string{query})
	if err == nil && len(qv) != 1 {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		ix.logger.Warn().Err(err).Msg("embedding query failed, using bm25")
		return nil
	}
	scores := make([]float64, len(ix.vectors))
	for i, v := range ix.vectors {
		scores[i] = cosine(qv[0], v)
	}
	return scores
}

// Search returns up to k documents ranked by relevance to query. Lexical
// search drops documents that share no term with the query; when nothing
// matches it returns the first k documents so recent news is still shown.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = 3
	}

	scores, lexical := ix.embeddingScores(ctx, query), false
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	if scores == nil {
		scores, lexical = ix.lexical.scores(query), true
	}

	results := make([]Result, 0, len(ix.docs))
	for i, d := range ix.docs {
		if lexical && scores[i] == 0 {
			continue
		}
		results = append(results, Result{Document: d, Score: scores[i]})
	}
	if len(results) == 0 {
		for _, d := range ix.docs {
			results = append(results, Result{Document: d})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
