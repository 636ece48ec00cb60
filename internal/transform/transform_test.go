package transform

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/stockagent/internal/frame"
	"github.com/seenimoa/stockagent/internal/marketdata"
)

// ── Prices ──

func multiTicker(t *testing.T) *frame.Frame {
	t.Helper()
	f, err := frame.FromRows(
		[]string{"Date", "Open_AAPL", "Open_MSFT", "Close_AAPL", "Close_MSFT", "Volume_AAPL", "Volume_MSFT"},
		[][]frame.Cell{
			{frame.Str("2024-01-02"), frame.Num(187), frame.Null(), frame.Num(185), frame.Null(), frame.Num(100), frame.Null()},
			{frame.Str("2024-01-03"), frame.Num(184), frame.Num(369), frame.Num(184), frame.Num(370), frame.Num(90), frame.Num(20)},
		},
	)
	require.NoError(t, err)
	return f
}

func TestSelectTicker(t *testing.T) {
	aapl, err := SelectTicker(multiTicker(t), "aapl")
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "Open", "Close", "Volume"}, aapl.Columns())
	assert.Equal(t, 2, aapl.Len())

	msft, err := SelectTicker(multiTicker(t), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 1, msft.Len(), "days without a close are dropped")
	assert.Equal(t, 370.0, msft.At(0, "Close").Num)
}

func TestSelectTickerUnknown(t *testing.T) {
	_, err := SelectTicker(multiTicker(t), "TSLA")
	assert.ErrorIs(t, err, ErrUnknownTicker)
}

// ── Financials ──

func statement(kind marketdata.StatementKind, items, dates int) marketdata.Statement {
	st := marketdata.Statement{Kind: kind}
	for d := 0; d < dates; d++ {
		st.Dates = append(st.Dates, fmt.Sprintf("202%d-09-30", 4-d))
	}
	for i := 0; i < items; i++ {
		vals := make(map[string]float64)
		for d, date := range st.Dates {
			if (i+d)%3 != 0 {
				vals[date] = float64(i*10 + d)
			}
		}
		st.Items = append(st.Items, marketdata.LineItem{Name: fmt.Sprintf("%s Item %d", kind, i), Values: vals})
	}
	return st
}

func TestFinancialsMeltShape(t *testing.T) {
	tests := []struct {
		name                  string
		income, balance, cash int
		dates                 int
	}{
		{"all statements", 4, 3, 2, 4},
		{"single item", 1, 0, 0, 1},
		{"income only", 5, 0, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := marketdata.Statements{Ticker: "AAPL", ByKind: map[marketdata.StatementKind]marketdata.Statement{
				marketdata.IncomeStatement:   statement(marketdata.IncomeStatement, tt.income, tt.dates),
				marketdata.BalanceSheet:      statement(marketdata.BalanceSheet, tt.balance, tt.dates),
				marketdata.CashFlowStatement: statement(marketdata.CashFlowStatement, tt.cash, tt.dates),
			}}
			long, err := Financials("aapl", st)
			require.NoError(t, err)

			n := tt.income + tt.balance + tt.cash
			assert.Equal(t, n*tt.dates, long.Len())
			assert.Equal(t, []string{ColDate, ColTicker, ColFinancial, ColValue, ColStatementType}, long.Columns())

			for i := 0; i < long.Len(); i++ {
				fin := long.At(i, ColFinancial).Str
				assert.Equal(t, StatementType(fin), long.At(i, ColStatementType).Str)
				assert.Equal(t, "AAPL", long.At(i, ColTicker).Str)
			}
		})
	}
}

func TestFinancialsPrefixes(t *testing.T) {
	st := marketdata.Statements{ByKind: map[marketdata.StatementKind]marketdata.Statement{
		marketdata.IncomeStatement: {
			Kind:  marketdata.IncomeStatement,
			Dates: []string{"2023-09-30"},
			Items: []marketdata.LineItem{{Name: "Total Revenue", Values: map[string]float64{"2023-09-30": 383}}},
		},
		marketdata.CashFlowStatement: {
			Kind:  marketdata.CashFlowStatement,
			Dates: []string{"2022-09-30"},
			Items: []marketdata.LineItem{{Name: "Free Cash Flow", Values: map[string]float64{"2022-09-30": 111}}},
		},
	}}
	long, err := Financials("AAPL", st)
	require.NoError(t, err)

	// two items across the union of two dates
	require.Equal(t, 4, long.Len())
	types := map[string]bool{}
	for i := 0; i < long.Len(); i++ {
		types[long.At(i, ColStatementType).Str] = true
	}
	assert.Equal(t, map[string]bool{"Income": true, "CashFlow": true}, types)

	assert.Equal(t, "2023-09-30", long.At(0, ColDate).Str)
	assert.Equal(t, "Income_Total Revenue", long.At(0, ColFinancial).Str)
	assert.Equal(t, 383.0, long.At(0, ColValue).Num)
	assert.True(t, long.At(1, ColValue).IsNull(), "revenue missing for 2022")
}

func TestFinancialsEmpty(t *testing.T) {
	long, err := Financials("AAPL", marketdata.Statements{})
	require.NoError(t, err)
	assert.Equal(t, 0, long.Len())
	assert.NotContains(t, long.Columns(), ColStatementType, "empty frame is not melted")

	empty := marketdata.Statements{ByKind: map[marketdata.StatementKind]marketdata.Statement{
		marketdata.IncomeStatement: {Kind: marketdata.IncomeStatement},
	}}
	long, err = Financials("AAPL", empty)
	require.NoError(t, err)
	assert.Equal(t, []string{ColFinancial}, long.Columns())
}

func TestStatementType(t *testing.T) {
	assert.Equal(t, "Income", StatementType("Income_Total Revenue"))
	assert.Equal(t, "Balance", StatementType("Balance_Net_Debt"))
	assert.Equal(t, "NoPrefix", StatementType("NoPrefix"))
}

// ── Metrics ──

func TestInfoFrame(t *testing.T) {
	f := InfoFrame(map[string]any{
		"symbol":          "AAPL",
		"marketCap":       2.9e12,
		"companyOfficers": []any{map[string]any{"name": "Tim Cook"}},
		"isEsgPopulated":  false,
		"missing":         nil,
	})
	assert.Equal(t, []string{"companyOfficers", "isEsgPopulated", "marketCap", "missing", "symbol"}, f.Columns())
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, `[{"name":"Tim Cook"}]`, f.At(0, "companyOfficers").Str)
	assert.True(t, f.At(0, "missing").IsNull())
}

func TestMetricsNeverIncludesExcluded(t *testing.T) {
	inputs := []map[string]any{
		{},
		{"symbol": "AAPL", "city": "Cupertino"},
		{"trailingPE": 29.5, "customField": "kept"},
	}
	all := map[string]any{}
	for _, k := range MetricsExclusions {
		all[k] = "x"
	}
	all["symbol"] = "AAPL"
	all["forwardPE"] = 27.1
	inputs = append(inputs, all)

	for _, in := range inputs {
		m := Metrics(InfoFrame(in))
		for _, ex := range MetricsExclusions {
			assert.False(t, m.Has(ex), "excluded column %q present", ex)
		}
	}

	m := Metrics(InfoFrame(all))
	assert.Equal(t, []string{"forwardPE", "symbol"}, m.Columns())

	m = Metrics(InfoFrame(map[string]any{"trailingPE": 29.5, "customField": "kept"}))
	assert.Equal(t, []string{"customField", "trailingPE"}, m.Columns(), "unknown columns pass through")
}

// ── News ──

func TestNewsDocumentsDropsOnlyUntitledUnlinked(t *testing.T) {
	items := []marketdata.NewsItem{
		{UUID: "a", Title: "Legacy title", Link: "https://x/a", Publisher: "Reuters", ProviderPublishTime: 1704205800, Type: "STORY"},
		{UUID: "b"},
		{Content: &marketdata.NewsContent{ID: "c", Title: "Nested title", PubDate: "2024-01-03T10:00:00Z",
			Provider: &marketdata.NewsRef{DisplayName: "Bloomberg"}, ClickThroughURL: &marketdata.NewsURL{URL: "https://x/c"}, ContentType: "VIDEO"}},
		{Content: &marketdata.NewsContent{ID: "d"}},
		{Link: "https://x/e"},
		{Title: "Only a title"},
		{Title: "   ", Link: "  "},
	}
	docs := NewsDocuments("aapl", items)
	require.Len(t, docs, 4)

	assert.Equal(t, "Legacy title", docs[0].Text)
	assert.Equal(t, "Reuters", docs[0].Metadata.Source)
	assert.Equal(t, "2024-01-02 14:30:00", docs[0].Metadata.PublishedAt)
	assert.Equal(t, "AAPL", docs[0].Metadata.Ticker)
	assert.Equal(t, "a", docs[0].Metadata.ProviderUUID)

	assert.Equal(t, "Nested title", docs[1].Title())
	assert.Equal(t, "https://x/c", docs[1].Metadata.URL)
	assert.Equal(t, "Bloomberg", docs[1].Metadata.Source)
	assert.Equal(t, "2024-01-03 10:00:00", docs[1].Metadata.PublishedAt)
	assert.Equal(t, "VIDEO", docs[1].Metadata.Type)

	assert.Equal(t, "https://x/e", docs[2].Text, "url stands in for a missing title")
	assert.Equal(t, "", docs[3].Metadata.URL)

	for _, d := range docs {
		assert.False(t, d.Metadata.URL == "" && d.Title() == "")
	}
}

func TestNewsDocumentsIDs(t *testing.T) {
	items := []marketdata.NewsItem{
		{Title: "same", Link: "https://x/1"},
		{Title: "same", Link: "https://x/1"},
	}
	a := NewsDocuments("AAPL", items)
	b := NewsDocuments("AAPL", items)
	require.Len(t, a, 2)
	assert.Equal(t, a[0].ID, b[0].ID, "ids are deterministic")
	assert.NotEqual(t, a[0].ID, a[1].ID, "ids are unique")
}

func TestNewsDocumentsIDFromURLOrTitle(t *testing.T) {
	docs := NewsDocuments("AAPL", []marketdata.NewsItem{
		{UUID: "provider-1", Title: "Linked", Link: "https://x/1"},
		{UUID: "provider-2", Title: "Title only"},
	})
	require.Len(t, docs, 2)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://x/1")).String(), docs[0].ID)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte("Title only")).String(), docs[1].ID)
	assert.Equal(t, "provider-2", docs[1].Metadata.ProviderUUID)
}

func TestNewsDocumentsSummary(t *testing.T) {
	docs := NewsDocuments("AAPL", []marketdata.NewsItem{{Title: "T", Link: "u", Summary: "Body text"}})
	require.Len(t, docs, 1)
	assert.Equal(t, "T\n\nBody text", docs[0].Text)
	assert.Equal(t, "T", docs[0].Title())
}

func TestNewsFrameRoundTrip(t *testing.T) {
	docs := NewsDocuments("AAPL", []marketdata.NewsItem{
		{UUID: "a", Title: "One", Link: "https://x/1", Publisher: "P", ProviderPublishTime: 1, Type: "STORY"},
		{Title: "Two"},
	})
	f := NewsFrame(docs)
	assert.Equal(t, NewsColumns, f.Columns())
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, docs, DocumentsFromFrame(f))
}

func TestFormatEpoch(t *testing.T) {
	assert.Equal(t, "1970-01-01 00:00:01", FormatEpoch(1))
}
