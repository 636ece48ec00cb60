package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// InfoModules are the quoteSummary modules merged into the info record.
// Later modules overwrite keys of earlier ones.
var InfoModules = []string{
	"assetProfile",
	"summaryDetail",
	"defaultKeyStatistics",
	"financialData",
	"quoteType",
	"price",
}

type yfQuoteSummaryResponse struct {
	QuoteSummary struct {
		Result []map[string]json.RawMessage `json:"result"`
		Error  *yfError                     `json:"error"`
	} `json:"quoteSummary"`
}

// Info returns the company info record for a ticker: every field of the
// quoteSummary modules in InfoModules flattened into one map. Values of the
// form {"raw": x, "fmt": "..."} collapse to x; empty objects are dropped.
func (c *Client) Info(ctx context.Context, ticker string) (map[string]any, error) {
	sym, err := NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	crumb, err := c.sessionCrumb(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("modules", strings.Join(InfoModules, ","))
	q.Set("corsDomain", "finance.yahoo.com")
	q.Set("formatted", "false")
	q.Set("crumb", crumb)
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?%s", c.query2, url.PathEscape(sym), q.Encode())

	var resp yfQuoteSummaryResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("yahoo quoteSummary %s: %w", sym, err)
	}
	if err := resp.QuoteSummary.Error.err(sym); err != nil {
		return nil, err
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sym)
	}

	info, err := flattenSummary(resp.QuoteSummary.Result[0])
	if err != nil {
		return nil, fmt.Errorf("yahoo quoteSummary %s: %w", sym, err)
	}
	if _, ok := info["symbol"]; !ok {
		info["symbol"] = sym
	}
	c.logger.Debug().Str("ticker", sym).Int("fields", len(info)).Msg("fetched company info")
	return info, nil
}

// flattenSummary merges the modules of one quoteSummary result.
func flattenSummary(result map[string]json.RawMessage) (map[string]any, error) {
	info := make(map[string]any)
	for _, module := range InfoModules {
		raw, ok := result[module]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("module %s: %w", module, err)
		}
		for k, v := range fields {
			if k == "maxAge" {
				continue
			}
			if v, keep := collapse(v); keep {
				info[k] = v
			}
		}
	}
	return info, nil
}

// collapse reduces Yahoo's {raw, fmt} wrappers to their raw value.
func collapse(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return v, v != nil
	}
	if len(m) == 0 {
		return nil, false
	}
	if raw, ok := m["raw"]; ok {
		return raw, raw != nil
	}
	if f, ok := m["fmt"]; ok {
		return f, f != nil
	}
	return m, true
}
