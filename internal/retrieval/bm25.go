package retrieval

import (
	"math"
	"strings"
	"unicode"
)

// BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// stopwords are dropped before lexical scoring.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true, "was": true,
	"were": true, "what": true, "which": true, "who": true, "will": true, "with": true,
	"about": true, "any": true, "there": true, "how": true, "does": true, "do": true,
}

// tokenize lowercases text and splits it into words, dropping stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// bm25 is an Okapi BM25 index over tokenized documents.
type bm25 struct {
	tf     []map[string]int
	length []int
	df     map[string]int
	avgLen float64
}

func newBM25(texts []string) *bm25 {
	ix := &bm25{
		tf:     make([]map[string]int, len(texts)),
		length: make([]int, len(texts)),
		df:     make(map[string]int),
	}
	total := 0
	for i, text := range texts {
		terms := tokenize(text)
		counts := make(map[string]int, len(terms))
		for _, t := range terms {
			counts[t]++
		}
		for t := range counts {
			ix.df[t]++
		}
		ix.tf[i] = counts
		ix.length[i] = len(terms)
		total += len(terms)
	}
	if len(texts) > 0 {
		ix.avgLen = float64(total) / float64(len(texts))
	}
	return ix
}

// scores returns the BM25 score of every document for the query.
func (ix *bm25) scores(query string) []float64 {
	out := make([]float64, len(ix.tf))
	n := float64(len(ix.tf))
	for _, term := range uniqueTerms(tokenize(query)) {
		df := float64(ix.df[term])
		if df == 0 {
			continue
		}
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		for i, counts := range ix.tf {
			tf := float64(counts[term])
			if tf == 0 {
				continue
			}
			norm := 1 - bm25B
			if ix.avgLen > 0 {
				norm += bm25B * float64(ix.length[i]) / ix.avgLen
			}
			out[i] += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
	}
	return out
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// cosine returns the cosine similarity of two vectors, or 0 when either is
// zero or their lengths differ.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
