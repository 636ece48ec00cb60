// Package sentiment scores the tone of news articles with a keyword
// dictionary. It needs no model and gives the same answer every time, so
// the news tool can label retrieved articles before the model sees them.
package sentiment

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/seenimoa/stockagent/internal/transform"
)

// Tone labels.
const (
	Bullish         = "Bullish"
	SlightlyBullish = "Slightly Bullish"
	Neutral         = "Neutral"
	SlightlyBearish = "Slightly Bearish"
	Bearish         = "Bearish"
)

// bullish / bearish keyword dictionaries (lowercase, matched at word start).
var bullishWords = map[string]float64{
	"bullish": 0.7, "rally": 0.6, "surge": 0.7, "soar": 0.7, "upbeat": 0.5,
	"positive": 0.4, "growth": 0.4, "upgrade": 0.6, "outperform": 0.6,
	"buy": 0.5, "strong": 0.4, "recovery": 0.5, "breakout": 0.6,
	"record high": 0.7, "all-time high": 0.7, "beat": 0.5, "jump": 0.5,
	"exceeds": 0.5, "tops estimates": 0.6, "expansion": 0.4, "gain": 0.4,
	"profit": 0.3, "dividend": 0.4, "buyback": 0.5, "raises guidance": 0.6,
}

var bearishWords = map[string]float64{
	"bearish": 0.7, "crash": 0.8, "plunge": 0.7, "slump": 0.6, "tumble": 0.6,
	"negative": 0.4, "downgrade": 0.6, "underperform": 0.6,
	"sell": 0.5, "weak": 0.4, "decline": 0.5, "loss": 0.4,
	"selloff": 0.7, "sell-off": 0.7, "fall": 0.4, "correction": 0.5,
	"default": 0.7, "fraud": 0.8, "lawsuit": 0.5, "investigation": 0.5,
	"cuts guidance": 0.6, "misses": 0.5, "warning": 0.5, "concern": 0.3,
	"layoff": 0.4, "recall": 0.4,
}

// Score is the tone of one article.
type Score struct {
	ID         string
	Headline   string
	URL        string
	Score      float64 // -1 bearish .. +1 bullish
	Confidence float64
	Label      string
	Published  time.Time
}

// Aggregate is the time-weighted tone of a set of articles.
type Aggregate struct {
	Ticker       string
	Score        float64
	Confidence   float64
	Label        string
	ArticleCount int
}

// ScoreText returns a sentiment score for a piece of text.
// Score ranges from -1.0 (very bearish) to +1.0 (very bullish).
func ScoreText(text string) (score float64, confidence float64) {
	normalized := normalize(text)

	bullScore := 0.0
	bearScore := 0.0
	matches := 0

	for word, weight := range bullishWords {
		if strings.Contains(normalized, " "+word) {
			bullScore += weight
			matches++
		}
	}
	for word, weight := range bearishWords {
		if strings.Contains(normalized, " "+word) {
			bearScore += weight
			matches++
		}
	}

	if matches == 0 {
		return 0, 0.1 // no signal
	}

	total := bullScore + bearScore
	score = (bullScore - bearScore) / total
	confidence = math.Min(float64(matches)*0.15+0.2, 0.85)
	return score, confidence
}

// normalize lowercases text and turns punctuation other than hyphens into
// spaces, with a leading space so every word starts after one.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return " " + strings.Join(strings.Fields(b.String()), " ")
}

// Label maps a score to a tone label.
func Label(score float64) string {
	switch {
	case score > 0.3:
		return Bullish
	case score > 0.1:
		return SlightlyBullish
	case score < -0.3:
		return Bearish
	case score < -0.1:
		return SlightlyBearish
	}
	return Neutral
}

// ScoreDocument scores a news document.
func ScoreDocument(doc transform.NewsDocument) Score {
	score, confidence := ScoreText(doc.Text)
	published, _ := time.Parse(transform.PublishedLayout, doc.Metadata.PublishedAt)
	return Score{
		ID:         doc.ID,
		Headline:   doc.Title(),
		URL:        doc.Metadata.URL,
		Score:      score,
		Confidence: confidence,
		Label:      Label(score),
		Published:  published,
	}
}

// AggregateScores computes a time-weighted tone as of now. Weight halves
// every 24 hours; articles without a date get full weight.
func AggregateScores(ticker string, scores []Score, now time.Time) Aggregate {
	agg := Aggregate{Ticker: ticker, Label: Neutral, ArticleCount: len(scores)}
	if len(scores) == 0 {
		return agg
	}

	weightedSum := 0.0
	totalWeight := 0.0
	confSum := 0.0
	for _, s := range scores {
		age := 0.0
		if !s.Published.IsZero() {
			age = math.Max(now.Sub(s.Published).Hours(), 0)
		}
		w := math.Exp(-math.Ln2*age/24) * s.Confidence
		weightedSum += s.Score * w
		totalWeight += w
		confSum += s.Confidence
	}
	if totalWeight > 0 {
		agg.Score = weightedSum / totalWeight
	}
	agg.Confidence = confSum / float64(len(scores))
	agg.Label = Label(agg.Score)
	return agg
}

// Documents scores every document and aggregates them.
func Documents(ticker string, docs []transform.NewsDocument, now time.Time) ([]Score, Aggregate) {
	scores := make([]Score, len(docs))
	for i, d := range docs {
		scores[i] = ScoreDocument(d)
	}
	return scores, AggregateScores(ticker, scores, now)
}
