package prompts

import (
	"strings"
	"testing"
)

// ── Tool Names ──

func TestToolNameValues(t *testing.T) {
	want := map[string]string{
		ToolPriceData:     "parse_price_data",
		ToolFinancialData: "parse_financial_data",
		ToolMetrics:       "parse_metrics",
		ToolNews:          "parse_news",
	}
	for got, w := range want {
		if got != w {
			t.Errorf("tool name: got %q, want %q", got, w)
		}
	}
}

func TestEveryToolDescribed(t *testing.T) {
	for _, name := range ToolOrder {
		d, ok := ToolDescriptions[name]
		if !ok {
			t.Errorf("%s has no description", name)
			continue
		}
		if d.Summary == "" || d.Input == "" || d.Returns == "" || d.UseWhen == "" {
			t.Errorf("%s description has empty fields: %+v", name, d)
		}
		if Describe(name) == "" {
			t.Errorf("Describe(%s) should not be empty", name)
		}
	}
	if Describe("unknown_tool") != "" {
		t.Error("Describe of an unknown tool should be empty")
	}
}

// ── System Prompt ──

func TestContextKeywords(t *testing.T) {
	for _, kw := range []string{"stock market analysis", "not financial advice", "CANNOT predict future prices"} {
		if !strings.Contains(Context, kw) {
			t.Errorf("Context should contain %q", kw)
		}
	}
}

func TestSystemPromptListsOnlyGivenTools(t *testing.T) {
	p := SystemPrompt([]string{ToolPriceData, ToolMetrics})
	if !strings.HasPrefix(p, Context) {
		t.Error("system prompt should start with the context")
	}
	for _, name := range []string{ToolPriceData, ToolMetrics} {
		if !strings.Contains(p, name+":") {
			t.Errorf("system prompt should describe %s", name)
		}
	}
	if strings.Contains(p, ToolNews+":") {
		t.Error("system prompt should not describe absent tools")
	}
	if !strings.Contains(p, "Use when:") {
		t.Error("tool block should contain usage guidance")
	}
}

func TestSystemPromptWithoutTools(t *testing.T) {
	if SystemPrompt(nil) != Context {
		t.Error("system prompt without tools should be the bare context")
	}
}

// ── Table Query ──

func TestTableQuerySubstitutes(t *testing.T) {
	p := TableQuery("   Close\n0  1.0", "What is the average close?")
	if strings.Contains(p, "{df_str}") || strings.Contains(p, "{query_str}") || strings.Contains(p, "{instruction_str}") {
		t.Errorf("placeholders left in prompt:\n%s", p)
	}
	for _, want := range []string{"   Close\n0  1.0", "Query: What is the average close?", "PRINT ONLY THE EXPRESSION", "df['Close'].mean()"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt should contain %q", want)
		}
	}
	if !strings.HasSuffix(p, "Expression: ") {
		t.Error("prompt should end with the expression cue")
	}
}

func TestQueryInstructionsForbidStatements(t *testing.T) {
	for _, kw := range []string{"assignments", "imports", "Do not try to read CSV files"} {
		if !strings.Contains(QueryInstructions, kw) {
			t.Errorf("instructions should mention %q", kw)
		}
	}
}

// ── News ──

func TestNewsAnswer(t *testing.T) {
	p := NewsAnswer("[1] Title: Apple beats", "Any earnings news?")
	if !strings.Contains(p, "[1] Title: Apple beats") || !strings.Contains(p, "Query: Any earnings news?") {
		t.Errorf("unexpected prompt:\n%s", p)
	}
	if !strings.Contains(p, "URL") {
		t.Error("news prompt should ask for URLs")
	}
}

func TestNoNews(t *testing.T) {
	if got := NoNews("AAPL"); !strings.Contains(got, "AAPL") {
		t.Errorf("NoNews(AAPL) = %q", got)
	}
	if NoNews("") == "" {
		t.Error("NoNews without ticker should not be empty")
	}
}
