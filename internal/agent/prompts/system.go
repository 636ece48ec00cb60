// Package prompts contains the fixed texts sent to the language model: the
// analyst context, the tool descriptions, the table query instructions and
// the news answer template.
package prompts

import (
	"fmt"
	"strings"
)

// ── Tool Names (canonical identifiers) ──

const (
	ToolPriceData     = "parse_price_data"
	ToolFinancialData = "parse_financial_data"
	ToolMetrics       = "parse_metrics"
	ToolNews          = "parse_news"
)

// ToolOrder is the order tools are registered and described in.
var ToolOrder = []string{ToolPriceData, ToolFinancialData, ToolMetrics, ToolNews}

// ── System Prompt ──

// Context tells the agent what it is for and how to answer.
const Context = `Purpose: The primary role of this agent is to assist users with stock market analysis.

IMPORTANT RULES:
1. You MUST use the available tools to query actual data before answering ANY question about stock prices, trends, financials, metrics or news.
2. After getting data from a tool, provide a DETAILED and HELPFUL response that:
   - States the actual values/numbers returned
   - Explains what those numbers mean in context
   - Provides relevant insights (e.g., if asking about average price, compare to recent prices)
3. You can ONLY analyze historical data. You CANNOT predict future prices.
4. Always state that this is not financial advice.

RESPONSE FORMAT:
- Be specific with numbers (e.g., "The average closing price is $149.28" not just "149.28")
- Provide context (e.g., "This is 5% higher than the lowest price of $142.10")
- Keep responses conversational and informative`

// ToolDescription documents one tool for the model.
type ToolDescription struct {
	Summary string
	Input   string
	Returns string
	UseWhen string
}

// ToolDescriptions holds the description of every tool by name.
var ToolDescriptions = map[string]ToolDescription{
	ToolPriceData: {
		Summary: "Queries the daily historical price table of the selected stock using natural language",
		Input:   "Natural language question about prices, volume or returns",
		Returns: "Query results from the price table (columns: Date, Open, High, Low, Close, Volume, Dividends, Stock Splits)",
		UseWhen: "User asks about stock prices, trends, volume, returns or price statistics",
	},
	ToolFinancialData: {
		Summary: "Queries the annual financial statements (income statement, balance sheet, cash flow) in long format",
		Input:   "Natural language question about revenue, income, assets, liabilities or cash flow",
		Returns: "Query results from the financials table (columns: Date, Ticker, Financial, Value, Statement_Type)",
		UseWhen: "User asks about revenue, profit, margins, debt, cash flow or other statement line items",
	},
	ToolMetrics: {
		Summary: "Queries the one-row table of company metrics and profile fields",
		Input:   "Natural language question about valuation, ratios or company profile",
		Returns: "Query results from the metrics table (e.g., marketCap, trailingPE, forwardPE, dividendYield, beta, sector, symbol)",
		UseWhen: "User asks about valuation ratios, market cap, dividends, analyst targets or company details",
	},
	ToolNews: {
		Summary: "Answers questions from recent news articles about the stock",
		Input:   "Natural language question about recent news or events",
		Returns: "An answer grounded in the most relevant articles, citing their titles and URLs",
		UseWhen: "User asks about recent news, announcements, events or market sentiment",
	},
}

// Describe returns the description text for a tool, or an empty string for
// an unknown name.
func Describe(name string) string {
	d, ok := ToolDescriptions[name]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s. Input: %s. Returns: %s.", d.Summary, d.Input, d.Returns)
}

// ToolBlock renders the description block for the given tools.
func ToolBlock(names []string) string {
	var b strings.Builder
	for _, name := range names {
		d, ok := ToolDescriptions[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", name)
		fmt.Fprintf(&b, "  Description: %s\n", d.Summary)
		fmt.Fprintf(&b, "  Input: %s\n", d.Input)
		fmt.Fprintf(&b, "  Returns: %s\n", d.Returns)
		fmt.Fprintf(&b, "  Use when: %s\n", d.UseWhen)
	}
	return b.String()
}

// SystemPrompt combines the analyst context with the description of the
// tools that are actually available.
func SystemPrompt(toolNames []string) string {
	if len(toolNames) == 0 {
		return Context
	}
	return Context + "\n\nAVAILABLE TOOLS:\n" + ToolBlock(toolNames)
}
