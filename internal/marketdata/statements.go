package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"
)

// StatementKind identifies one of the three annual statements.
type StatementKind string

const (
	IncomeStatement   StatementKind = "Income"
	BalanceSheet      StatementKind = "Balance"
	CashFlowStatement StatementKind = "CashFlow"
)

// StatementKinds lists the statements in the order they are concatenated.
var StatementKinds = []StatementKind{IncomeStatement, BalanceSheet, CashFlowStatement}

// statementKeys are the fundamentals-timeseries series requested per
// statement, without the "annual" prefix.
var statementKeys = map[StatementKind][]string{
	IncomeStatement: {
		"TotalRevenue", "CostOfRevenue", "GrossProfit", "OperatingExpense",
		"ResearchAndDevelopment", "SellingGeneralAndAdministration",
		"OperatingIncome", "InterestExpense", "PretaxIncome", "TaxProvision",
		"NetIncome", "BasicEPS", "DilutedEPS", "DilutedAverageShares",
		"EBIT", "EBITDA",
	},
	BalanceSheet: {
		"TotalAssets", "CurrentAssets", "CashAndCashEquivalents", "Inventory",
		"AccountsReceivable", "TotalLiabilitiesNetMinorityInterest",
		"CurrentLiabilities", "LongTermDebt", "TotalDebt", "NetDebt",
		"StockholdersEquity", "RetainedEarnings", "WorkingCapital",
		"OrdinarySharesNumber",
	},
	CashFlowStatement: {
		"OperatingCashFlow", "InvestingCashFlow", "FinancingCashFlow",
		"FreeCashFlow", "CapitalExpenditure", "RepurchaseOfCapitalStock",
		"CashDividendsPaid", "DepreciationAndAmortization",
		"StockBasedCompensation", "EndCashPosition",
	},
}

// LineItem is one row of a wide statement: a value per fiscal date.
// Dates without a reported value are absent from Values.
type LineItem struct {
	Name   string
	Values map[string]float64
}

// Statement is a wide annual statement: line items by fiscal date.
type Statement struct {
	Kind  StatementKind
	Dates []string // newest first
	Items []LineItem
}

// Empty reports whether the statement has no data.
func (s Statement) Empty() bool {
	return len(s.Items) == 0 || len(s.Dates) == 0
}

// Statements holds the three statements of a ticker.
type Statements struct {
	Ticker string
	ByKind map[StatementKind]Statement
}

type yfTimeseriesResponse struct {
	Timeseries struct {
		Result []map[string]json.RawMessage `json:"result"`
		Error  *yfError                     `json:"error"`
	} `json:"timeseries"`
}

type yfTimeseriesMeta struct {
	Symbol []string `json:"symbol"`
	Type   []string `json:"type"`
}

type yfTimeseriesPoint struct {
	AsOfDate      string `json:"asOfDate"`
	PeriodType    string `json:"periodType"`
	ReportedValue struct {
		Raw *float64 `json:"raw"`
	} `json:"reportedValue"`
}

// fundamentalsEpoch is the earliest period Yahoo serves fundamentals for.
var fundamentalsEpoch = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

// Statements downloads the annual income statement, balance sheet and cash
// flow statement of a ticker.
func (c *Client) Statements(ctx context.Context, ticker string) (Statements, error) {
	sym, err := NormalizeTicker(ticker)
	if err != nil {
		return Statements{}, err
	}
	crumb, err := c.sessionCrumb(ctx)
	if err != nil {
		return Statements{}, err
	}

	out := Statements{Ticker: sym, ByKind: make(map[StatementKind]Statement, len(StatementKinds))}
	for _, kind := range StatementKinds {
		st, err := c.statement(ctx, sym, crumb, kind)
		if err != nil {
			return Statements{}, err
		}
		out.ByKind[kind] = st
	}
	c.logger.Debug().Str("ticker", sym).
		Int("income", len(out.ByKind[IncomeStatement].Items)).
		Int("balance", len(out.ByKind[BalanceSheet].Items)).
		Int("cashflow", len(out.ByKind[CashFlowStatement].Items)).
		Msg("fetched financial statements")
	return out, nil
}

func (c *Client) statement(ctx context.Context, sym, crumb string, kind StatementKind) (Statement, error) {
	keys := statementKeys[kind]
	types := make([]string, len(keys))
	for i, k := range keys {
		types[i] = "annual" + k
	}

	q := url.Values{}
	q.Set("symbol", sym)
	q.Set("type", strings.Join(types, ","))
	q.Set("period1", fmt.Sprint(fundamentalsEpoch.Unix()))
	q.Set("period2", fmt.Sprint(time.Now().Unix()))
	q.Set("crumb", crumb)
	u := fmt.Sprintf("%s/ws/fundamentals-timeseries/v1/finance/timeseries/%s?%s",
		c.query2, url.PathEscape(sym), q.Encode())

	var resp yfTimeseriesResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return Statement{}, fmt.Errorf("yahoo %s statement %s: %w", kind, sym, err)
	}
	if err := resp.Timeseries.Error.err(sym); err != nil {
		return Statement{}, err
	}
	st, err := parseTimeseries(kind, keys, resp.Timeseries.Result)
	if err != nil {
		return Statement{}, fmt.Errorf("yahoo %s statement %s: %w", kind, sym, err)
	}
	return st, nil
}

// parseTimeseries turns timeseries results into a wide statement. Line
// items keep the order of keys; items with no reported values are dropped.
func parseTimeseries(kind StatementKind, keys []string, results []map[string]json.RawMessage) (Statement, error) {
	series := make(map[string]map[string]float64)
	dateSet := make(map[string]bool)

	for _, r := range results {
		var meta yfTimeseriesMeta
		if raw, ok := r["meta"]; ok {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return Statement{}, fmt.Errorf("decode meta: %w", err)
			}
		}
		if len(meta.Type) == 0 {
			continue
		}
		typ := meta.Type[0]
		raw, ok := r[typ]
		if !ok {
			continue
		}
		var points []*yfTimeseriesPoint
		if err := json.Unmarshal(raw, &points); err != nil {
			return Statement{}, fmt.Errorf("decode %s: %w", typ, err)
		}
		key := strings.TrimPrefix(typ, "annual")
		for _, p := range points {
			if p == nil || p.AsOfDate == "" || p.ReportedValue.Raw == nil {
				continue
			}
			if series[key] == nil {
				series[key] = make(map[string]float64)
			}
			series[key][p.AsOfDate] = *p.ReportedValue.Raw
			dateSet[p.AsOfDate] = true
		}
	}

	st := Statement{Kind: kind}
	for d := range dateSet {
		st.Dates = append(st.Dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(st.Dates)))
	for _, k := range keys {
		if vals, ok := series[k]; ok {
			st.Items = append(st.Items, LineItem{Name: SplitCamel(k), Values: vals})
		}
	}
	return st, nil
}

// SplitCamel turns a CamelCase series key into words:
// "TotalRevenue" → "Total Revenue", "DilutedEPS" → "Diluted EPS".
func SplitCamel(s string) string {
	r := []rune(s)
	var b strings.Builder
	for i, ch := range r {
		if i > 0 && unicode.IsUpper(ch) {
			prev := r[i-1]
			nextLower := i+1 < len(r) && unicode.IsLower(r[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(ch)
	}
	return b.String()
}
