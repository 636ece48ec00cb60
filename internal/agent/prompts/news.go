package prompts

import (
	"fmt"
	"strings"
)

// ── News Answers ──

// NewsAnswerTemplate asks for an answer grounded only in the retrieved
// articles. It is filled with {context_str} and {query_str}.
const NewsAnswerTemplate = `Context information from recent news articles is below.
---------------------
{context_str}
---------------------
Given the context information and not prior knowledge, answer the query.
Cite the title and URL of every article you use. If the articles do not answer the query, say so.
Query: {query_str}
Answer: `

// NewsAnswer renders the news answer prompt.
func NewsAnswer(contextText, question string) string {
	return strings.NewReplacer(
		"{context_str}", contextText,
		"{query_str}", question,
	).Replace(NewsAnswerTemplate)
}

// NoNews is the answer of the news tool when no articles were indexed.
func NoNews(ticker string) string {
	if ticker == "" {
		return "No recent news is available."
	}
	return fmt.Sprintf("No recent news is available for %s.", ticker)
}
