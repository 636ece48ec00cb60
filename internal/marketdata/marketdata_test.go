package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeYahoo serves canned Yahoo responses.
type fakeYahoo struct {
	crumbCalls atomic.Int32
	searchNews string
}

func (f *fakeYahoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/cookie":
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "session"})
		w.WriteHeader(http.StatusNotFound)
	case path == "/v1/test/getcrumb":
		f.crumbCalls.Add(1)
		fmt.Fprint(w, "crumb-123")
	case strings.HasPrefix(path, "/v8/finance/chart/"):
		sym := strings.TrimPrefix(path, "/v8/finance/chart/")
		body, ok := chartBodies[sym]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
			return
		}
		fmt.Fprint(w, body)
	case strings.HasPrefix(path, "/v10/finance/quoteSummary/"):
		if r.URL.Query().Get("crumb") != "crumb-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, quoteSummaryBody)
	case strings.HasPrefix(path, "/ws/fundamentals-timeseries/"):
		types := r.URL.Query().Get("type")
		switch {
		case strings.Contains(types, "annualTotalRevenue"):
			fmt.Fprint(w, incomeBody)
		case strings.Contains(types, "annualTotalAssets"):
			fmt.Fprint(w, balanceBody)
		default:
			fmt.Fprint(w, `{"timeseries":{"result":[{"meta":{"symbol":["AAPL"],"type":["annualFreeCashFlow"]},"timestamp":[]}],"error":null}}`)
		}
	case path == "/v1/finance/search":
		fmt.Fprint(w, f.searchNews)
	case path == "/rss":
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssBody)
	default:
		http.NotFound(w, r)
	}
}

var chartBodies = map[string]string{
	"AAPL": `{"chart":{"result":[{"meta":{"symbol":"AAPL","currency":"USD","gmtoffset":-18000},
		"timestamp":[1704205800,1704292200],
		"indicators":{"quote":[{"open":[187.15,184.22],"high":[188.44,185.88],"low":[183.89,183.43],"close":[185.64,184.25],"volume":[82488700,58414500]}],
		"adjclose":[{"adjclose":[185.64,184.25]}]}}],"error":null}}`,
	"MSFT": `{"chart":{"result":[{"meta":{"symbol":"MSFT","currency":"USD","gmtoffset":-18000},
		"timestamp":[1704292200,1704378600],
		"indicators":{"quote":[{"open":[369.01,null],"high":[373.26,null],"low":[366.78,null],"close":[370.6,null],"volume":[23083500,null]}]}}],"error":null}}`,
}

const quoteSummaryBody = `{"quoteSummary":{"result":[{
	"assetProfile":{"city":"Cupertino","sector":"Technology","maxAge":86400,"companyOfficers":[{"name":"Tim Cook"}]},
	"summaryDetail":{"marketCap":{"raw":2.9e12,"fmt":"2.9T"},"trailingPE":{"raw":29.5,"fmt":"29.50"},"empty":{}},
	"price":{"symbol":"AAPL","longName":"Apple Inc."}
}],"error":null}}`

const incomeBody = `{"timeseries":{"result":[
	{"meta":{"symbol":["AAPL"],"type":["annualTotalRevenue"]},"timestamp":[1,2],
	 "annualTotalRevenue":[{"asOfDate":"2022-09-30","periodType":"12M","reportedValue":{"raw":394328000000}},
	                       {"asOfDate":"2023-09-30","periodType":"12M","reportedValue":{"raw":383285000000}}]},
	{"meta":{"symbol":["AAPL"],"type":["annualNetIncome"]},"timestamp":[1],
	 "annualNetIncome":[null,{"asOfDate":"2023-09-30","periodType":"12M","reportedValue":{"raw":96995000000}}]},
	{"meta":{"symbol":["AAPL"],"type":["annualEBITDA"]}}
],"error":null}}`

const balanceBody = `{"timeseries":{"result":[
	{"meta":{"symbol":["AAPL"],"type":["annualTotalAssets"]},"timestamp":[1],
	 "annualTotalAssets":[{"asOfDate":"2023-09-30","periodType":"12M","reportedValue":{"raw":352583000000}}]}
],"error":null}}`

const legacyNewsBody = `{"news":[
	{"uuid":"u-1","title":"Apple beats estimates","publisher":"Reuters","link":"https://example.com/a","providerPublishTime":1704205800,"type":"STORY"},
	{"content":{"id":"c-2","title":"iPhone sales","pubDate":"2024-01-03T10:00:00Z","provider":{"displayName":"Bloomberg"},"canonicalUrl":{"url":"https://example.com/b"},"contentType":"STORY"}}
]}`

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Yahoo! Finance: AAPL News</title>
<item><title>Apple headline</title><link>https://example.com/rss1</link><guid>rss-1</guid>
<description>&lt;p&gt;Shares &lt;b&gt;rose&lt;/b&gt; today&lt;/p&gt;</description>
<pubDate>Tue, 02 Jan 2024 15:00:00 +0000</pubDate></item>
</channel></rss>`

func newTestClient(t *testing.T, fake *fakeYahoo) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(WithBaseURL(srv.URL), WithRateLimit(0))
}

// ── Tickers and windows ──

func TestNormalizeTicker(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"aapl", "AAPL", false},
		{"  msft ", "MSFT", false},
		{"brk-b", "BRK-B", false},
		{"^gspc", "^GSPC", false},
		{"", "", true},
		{"AA PL", "", true},
		{"AAPL;DROP", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeTicker(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidTicker, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestLookback(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	start, end, err := Lookback(2, now)
	require.NoError(t, err)
	assert.Equal(t, now, end)
	assert.Equal(t, 730*24*time.Hour, end.Sub(start))

	_, _, err = Lookback(0, now)
	assert.Error(t, err)
}

// ── Prices ──

func TestHistoryJoinsTickers(t *testing.T) {
	c := newTestClient(t, &fakeYahoo{})
	f, err := c.History(context.Background(), []string{"aapl", "MSFT", "AAPL"}, time.Unix(0, 0), time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Date",
		"Open_AAPL", "Open_MSFT", "High_AAPL", "High_MSFT", "Low_AAPL", "Low_MSFT",
		"Close_AAPL", "Close_MSFT", "Volume_AAPL", "Volume_MSFT",
	}, f.Columns())
	require.Equal(t, 3, f.Len())
	assert.Equal(t, "2024-01-02", f.At(0, "Date").Str)
	assert.Equal(t, 185.64, f.At(0, "Close_AAPL").Num)
	assert.True(t, f.At(0, "Close_MSFT").IsNull())
	assert.Equal(t, 370.6, f.At(1, "Close_MSFT").Num)
	assert.True(t, f.At(2, "Close_MSFT").IsNull(), "null candle stays missing")
	assert.True(t, f.At(2, "Close_AAPL").IsNull())
}

func TestHistoryUnknownTicker(t *testing.T) {
	c := newTestClient(t, &fakeYahoo{})
	_, err := c.History(context.Background(), []string{"AAPL", "NOPE"}, time.Unix(0, 0), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestParseCandlesAdjusts(t *testing.T) {
	o, h, l, cl, adj, v := 100.0, 110.0, 90.0, 100.0, 50.0, 1000.0
	bars := parseCandles(yfChartResult{
		Timestamp: []int64{1704205800},
		Indicators: yfIndicators{
			Quote:    []yfOHLCV{{Open: []*float64{&o}, High: []*float64{&h}, Low: []*float64{&l}, Close: []*float64{&cl}, Volume: []*float64{&v}}},
			AdjClose: []yfAdjClose{{AdjClose: []*float64{&adj}}},
		},
	})
	require.Len(t, bars, 1)
	assert.Equal(t, 50.0, bars[0].Open)
	assert.Equal(t, 55.0, bars[0].High)
	assert.Equal(t, 45.0, bars[0].Low)
	assert.Equal(t, 50.0, bars[0].Close)
	assert.Equal(t, 1000.0, bars[0].Volume)
}

func TestParseCandlesEmpty(t *testing.T) {
	assert.Nil(t, parseCandles(yfChartResult{}))
	bars := parseCandles(yfChartResult{Timestamp: []int64{1}, Indicators: yfIndicators{Quote: []yfOHLCV{{}}}})
	require.Len(t, bars, 1)
	assert.True(t, math.IsNaN(bars[0].Close))
}

// ── Info ──

func TestInfoFlattens(t *testing.T) {
	fake := &fakeYahoo{}
	c := newTestClient(t, fake)

	info, err := c.Info(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "Cupertino", info["city"])
	assert.Equal(t, 2.9e12, info["marketCap"])
	assert.Equal(t, 29.5, info["trailingPE"])
	assert.Equal(t, "AAPL", info["symbol"])
	assert.NotContains(t, info, "maxAge")
	assert.NotContains(t, info, "empty")
	assert.IsType(t, []any{}, info["companyOfficers"])

	_, err = c.Info(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.crumbCalls.Load(), "crumb is fetched once per client")
}

// ── Statements ──

func TestStatements(t *testing.T) {
	c := newTestClient(t, &fakeYahoo{})
	st, err := c.Statements(context.Background(), "AAPL")
	require.NoError(t, err)

	inc := st.ByKind[IncomeStatement]
	assert.Equal(t, []string{"2023-09-30", "2022-09-30"}, inc.Dates)
	require.Len(t, inc.Items, 2, "EBITDA had no points")
	assert.Equal(t, "Total Revenue", inc.Items[0].Name)
	assert.Equal(t, 383285000000.0, inc.Items[0].Values["2023-09-30"])
	assert.Equal(t, "Net Income", inc.Items[1].Name)
	_, has := inc.Items[1].Values["2022-09-30"]
	assert.False(t, has)

	assert.Len(t, st.ByKind[BalanceSheet].Items, 1)
	assert.True(t, st.ByKind[CashFlowStatement].Empty())
}

func TestSplitCamel(t *testing.T) {
	tests := map[string]string{
		"TotalRevenue":                        "Total Revenue",
		"DilutedEPS":                          "Diluted EPS",
		"EBITDA":                              "EBITDA",
		"TotalLiabilitiesNetMinorityInterest": "Total Liabilities Net Minority Interest",
		"":                                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SplitCamel(in))
	}
}

// ── News ──

func TestNewsBothShapes(t *testing.T) {
	c := newTestClient(t, &fakeYahoo{searchNews: legacyNewsBody})
	items, err := c.News(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Apple beats estimates", items[0].Title)
	assert.Equal(t, int64(1704205800), items[0].ProviderPublishTime)
	assert.Nil(t, items[0].Content)

	require.NotNil(t, items[1].Content)
	assert.Equal(t, "iPhone sales", items[1].Content.Title)
	assert.Equal(t, "https://example.com/b", items[1].Content.CanonicalURL.URL)
	assert.Equal(t, "Bloomberg", items[1].Content.Provider.DisplayName)
}

func TestNewsRSSFallback(t *testing.T) {
	c := newTestClient(t, &fakeYahoo{searchNews: `{"news":[]}`})
	items, err := c.News(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Apple headline", items[0].Title)
	assert.Equal(t, "https://example.com/rss1", items[0].Link)
	assert.Equal(t, "Shares rose today", items[0].Summary)
	assert.Equal(t, int64(1704207600), items[0].ProviderPublishTime)
}

func TestNewsNoFallback(t *testing.T) {
	srv := httptest.NewServer(&fakeYahoo{searchNews: `{"news":[]}`})
	t.Cleanup(srv.Close)
	c := New(WithBaseURL(srv.URL), WithRateLimit(0), WithRSSFallback(false))

	items, err := c.News(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCleanHTML(t *testing.T) {
	assert.Equal(t, "", cleanHTML(""))
	assert.Equal(t, "a b", cleanHTML("<p>a</p>\n<p>b</p>"))
}

func TestHTTPErrorUnwrap(t *testing.T) {
	assert.ErrorIs(t, &HTTPError{StatusCode: 404}, ErrNotFound)
	assert.NotErrorIs(t, &HTTPError{StatusCode: 500}, ErrNotFound)
}
