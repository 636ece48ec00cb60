// Package transform reshapes raw market-data responses into the flat tables
// the agent tools query: a single-ticker price table, long-format financial
// statements, a one-row metrics table, and news documents.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/seenimoa/stockagent/internal/frame"
	"github.com/seenimoa/stockagent/internal/marketdata"
)

// ErrUnknownTicker is returned when a ticker has no columns in a
// multi-ticker price frame.
var ErrUnknownTicker = errors.New("transform: ticker not in price frame")

// ════════════════════════════════════════════════════════════════════
// Prices
// ════════════════════════════════════════════════════════════════════

// SelectTicker picks one ticker's <Field>_<TICKER> columns out of the
// multi-ticker frame and renames them to the bare field names. Rows where
// the ticker has no close (dates it did not trade) are dropped.
func SelectTicker(all *frame.Frame, ticker string) (*frame.Frame, error) {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	suffix := "_" + sym

	names := []string{"Date"}
	rename := make(map[string]string)
	for _, col := range all.Columns() {
		if field, ok := strings.CutSuffix(col, suffix); ok && field != "" && !strings.Contains(field, "_") {
			names = append(names, col)
			rename[col] = field
		}
	}
	if len(rename) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, sym)
	}

	sel, err := all.Select(names...)
	if err != nil {
		return nil, err
	}
	out, err := sel.Rename(rename)
	if err != nil {
		return nil, err
	}
	if out.Has("Close") {
		out = out.Filter(func(i int) bool { return !out.At(i, "Close").IsNull() })
	}
	return out, nil
}

// ════════════════════════════════════════════════════════════════════
// Financial statements
// ════════════════════════════════════════════════════════════════════

// Long-format financials columns.
const (
	ColDate          = "Date"
	ColTicker        = "Ticker"
	ColFinancial     = "Financial"
	ColValue         = "Value"
	ColStatementType = "Statement_Type"
)

// StatementFrame renders a wide statement: a Financial column naming each
// line item, then one column per fiscal date (newest first). Each line item
// name is prefixed with prefix and an underscore.
func StatementFrame(st marketdata.Statement, prefix string) *frame.Frame {
	f := frame.New(ColFinancial)
	for _, d := range st.Dates {
		f = withColumn(f, d)
	}
	for _, item := range st.Items {
		row := make([]frame.Cell, 0, len(st.Dates)+1)
		row = append(row, frame.Str(prefix+"_"+item.Name))
		for _, d := range st.Dates {
			if v, ok := item.Values[d]; ok {
				row = append(row, frame.Num(v))
			} else {
				row = append(row, frame.Null())
			}
		}
		_ = f.AppendRow(row...)
	}
	return f
}

func withColumn(f *frame.Frame, name string) *frame.Frame {
	if f.Has(name) {
		return f
	}
	_ = f.AddColumn(name, make([]frame.Cell, f.Len()))
	return f
}

// Financials concatenates the three statements with their kind as row
// prefix, transposes so fiscal dates become rows, and melts into
// (Date, Ticker, Financial, Value, Statement_Type). With N line items and
// D distinct dates the result has exactly N×D rows. When there is nothing to
// melt the concatenated frame is returned untransformed.
func Financials(ticker string, st marketdata.Statements) (*frame.Frame, error) {
	parts := make([]*frame.Frame, 0, len(marketdata.StatementKinds))
	for _, kind := range marketdata.StatementKinds {
		s, ok := st.ByKind[kind]
		if !ok {
			continue
		}
		parts = append(parts, StatementFrame(s, string(kind)))
	}
	wide := frame.Concat(parts...)
	if wide.Len() == 0 || wide.Width() <= 1 {
		return wide, nil
	}

	byDate, err := wide.Transpose(ColFinancial, ColDate)
	if err != nil {
		return nil, fmt.Errorf("transpose financials: %w", err)
	}
	long, err := byDate.Melt([]string{ColDate}, ColFinancial, ColValue)
	if err != nil {
		return nil, fmt.Errorf("melt financials: %w", err)
	}

	sym := strings.ToUpper(strings.TrimSpace(ticker))
	tickers := make([]frame.Cell, long.Len())
	types := make([]frame.Cell, long.Len())
	fin, _ := long.Column(ColFinancial)
	for i := range tickers {
		tickers[i] = frame.Str(sym)
		types[i] = frame.Str(StatementType(fin[i].Str))
	}
	if err := long.InsertColumn(1, ColTicker, tickers); err != nil {
		return nil, err
	}
	if err := long.AddColumn(ColStatementType, types); err != nil {
		return nil, err
	}
	return long, nil
}

// StatementType returns the token before the first underscore of a
// Financial label.
func StatementType(financial string) string {
	head, _, _ := strings.Cut(financial, "_")
	return head
}

// ════════════════════════════════════════════════════════════════════
// Info and metrics
// ════════════════════════════════════════════════════════════════════

// MetricsExclusions lists info fields that are not metrics: addresses,
// contact details, descriptive text, identifiers and bookkeeping fields.
var MetricsExclusions = []string{
	"address1", "address2", "address3", "city", "state", "zip", "country",
	"phone", "fax", "website", "irWebsite",
	"industryKey", "industryDisp", "sectorKey", "sectorDisp",
	"longBusinessSummary", "companyOfficers", "executiveTeam",
	"compensationAsOfEpochDate", "governanceEpochDate",
	"auditRisk", "boardRisk", "compensationRisk", "shareHolderRightsRisk", "overallRisk",
	"maxAge", "priceHint", "uuid", "messageBoardId", "gmtOffSetMilliseconds",
	"timeZoneFullName", "timeZoneShortName", "exchangeTimezoneName", "exchangeTimezoneShortName",
	"underlyingSymbol", "quoteSourceName", "triggerable", "customPriceAlertConfidence",
	"corporateActions", "firstTradeDateEpochUtc", "firstTradeDateMilliseconds",
	"fromCurrency", "toCurrency", "lastMarket", "coinMarketCapLink", "algorithm",
	"preMarketSource", "postMarketSource", "regularMarketSource", "quoteType", "typeDisp",
}

// InfoFrame turns the info record into a one-row frame with columns sorted
// by name. Lists and objects are stored as compact JSON.
func InfoFrame(info map[string]any) *frame.Frame {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := frame.New()
	for _, k := range keys {
		_ = f.AddColumn(k, []frame.Cell{toCell(info[k])})
	}
	return f
}

// Metrics drops every column named in MetricsExclusions. Columns not in the
// list pass through unchanged.
func Metrics(info *frame.Frame) *frame.Frame {
	return info.Drop(MetricsExclusions...)
}

func toCell(v any) frame.Cell {
	switch x := v.(type) {
	case nil:
		return frame.Null()
	case float64:
		return frame.Num(x)
	case float32:
		return frame.Num(float64(x))
	case int:
		return frame.Num(float64(x))
	case int64:
		return frame.Num(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return frame.Num(f)
		}
		return frame.Str(x.String())
	case bool:
		return frame.Bool(x)
	case string:
		return frame.Str(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return frame.Str(fmt.Sprint(x))
		}
		return frame.Str(string(b))
	}
}
