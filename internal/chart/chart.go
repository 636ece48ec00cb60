// Package chart renders the closing-price history of a ticker as an SVG
// line chart.
package chart

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/seenimoa/stockagent/internal/frame"
)

// ErrNoPrices is returned when the price table has no usable closes.
var ErrNoPrices = errors.New("chart: no price data")

// Config holds rendering parameters.
type Config struct {
	Width        int
	Height       int
	MarginTop    int
	MarginRight  int
	MarginBottom int
	MarginLeft   int
	BgColor      string
	GridColor    string
	TextColor    string
	LineColor    string
	FontSize     int
	XGrid        int // vertical grid lines
	YGrid        int // horizontal grid lines
}

// DefaultConfig returns a 1000×600 chart with a grid on both axes.
func DefaultConfig() Config {
	return Config{
		Width:        1000,
		Height:       600,
		MarginTop:    50,
		MarginRight:  40,
		MarginBottom: 70,
		MarginLeft:   90,
		BgColor:      "#ffffff",
		GridColor:    "#d9d9d9",
		TextColor:    "#333333",
		LineColor:    "#1f77b4",
		FontSize:     12,
		XGrid:        8,
		YGrid:        6,
	}
}

func (c Config) plotArea() (x, y, w, h int) {
	return c.MarginLeft, c.MarginTop,
		c.Width - c.MarginLeft - c.MarginRight,
		c.Height - c.MarginTop - c.MarginBottom
}

// Title returns the chart heading for ticker and lookback years.
func Title(ticker string, years int) string {
	return fmt.Sprintf("%s Stock Price Over Last %d Years", strings.ToUpper(ticker), years)
}

// FileName returns the chart file name for ticker.
func FileName(ticker string) string {
	return strings.ToUpper(ticker) + "_chart.svg"
}

// Point is one (date, value) sample.
type Point struct {
	Label string
	Value float64
}

// ClosePoints extracts (Date, Close) pairs from a single-ticker price table,
// skipping rows without a numeric close.
func ClosePoints(prices *frame.Frame) []Point {
	if !prices.Has("Close") {
		return nil
	}
	pts := make([]Point, 0, prices.Len())
	for i := 0; i < prices.Len(); i++ {
		v, ok := prices.At(i, "Close").Float()
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, Point{Label: prices.At(i, "Date").Text(), Value: v})
	}
	return pts
}

// PriceChart renders the Close column of prices over Date.
func PriceChart(prices *frame.Frame, ticker string, years int) (string, error) {
	pts := ClosePoints(prices)
	if len(pts) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoPrices, strings.ToUpper(ticker))
	}
	return Line(pts, Title(ticker, years), "Date", "Price ($)", DefaultConfig()), nil
}

// Line draws a single series with axis labels and grid lines.
func Line(pts []Point, title, xLabel, yLabel string, cfg Config) string {
	if cfg.Width == 0 {
		cfg = DefaultConfig()
	}
	px, py, pw, ph := cfg.plotArea()

	minVal, maxVal := math.MaxFloat64, -math.MaxFloat64
	for _, p := range pts {
		minVal = math.Min(minVal, p.Value)
		maxVal = math.Max(maxVal, p.Value)
	}
	vRange := maxVal - minVal
	if vRange < 0.001 {
		vRange = 1
	}
	minVal -= vRange * 0.05
	maxVal += vRange * 0.05
	vRange = maxVal - minVal

	xAt := func(i int) float64 {
		if len(pts) == 1 {
			return float64(px) + float64(pw)/2
		}
		return float64(px) + float64(i)*float64(pw)/float64(len(pts)-1)
	}
	yAt := func(v float64) float64 {
		return float64(py+ph) - (v-minVal)/vRange*float64(ph)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif">`,
		cfg.Width, cfg.Height, cfg.Width, cfg.Height)
	fmt.Fprintf(&sb, `<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`, cfg.Width, cfg.Height, cfg.BgColor)
	fmt.Fprintf(&sb, `<text x="%d" y="30" font-size="18" font-weight="bold" fill="%s" text-anchor="middle">%s</text>`,
		cfg.Width/2, cfg.TextColor, escapeXML(title))

	// horizontal grid with price ticks
	for i := 0; i <= cfg.YGrid; i++ {
		val := minVal + vRange*float64(i)/float64(cfg.YGrid)
		y := yAt(val)
		fmt.Fprintf(&sb, `<line class="grid" x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="%s" stroke-dasharray="3,3"/>`,
			px, y, px+pw, y, cfg.GridColor)
		fmt.Fprintf(&sb, `<text x="%d" y="%.1f" font-size="%d" fill="%s" text-anchor="end">%.2f</text>`,
			px-6, y+4, cfg.FontSize, cfg.TextColor, val)
	}

	// vertical grid with date ticks
	step := len(pts) / cfg.XGrid
	if step < 1 {
		step = 1
	}
	for i := 0; i < len(pts); i += step {
		x := xAt(i)
		fmt.Fprintf(&sb, `<line class="grid" x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="%s" stroke-dasharray="3,3"/>`,
			x, py, x, py+ph, cfg.GridColor)
		fmt.Fprintf(&sb, `<text x="%.1f" y="%d" font-size="%d" fill="%s" text-anchor="middle">%s</text>`,
			x, py+ph+18, cfg.FontSize-1, cfg.TextColor, escapeXML(pts[i].Label))
	}

	// axes
	fmt.Fprintf(&sb, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s"/>`, px, py+ph, px+pw, py+ph, cfg.TextColor)
	fmt.Fprintf(&sb, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s"/>`, px, py, px, py+ph, cfg.TextColor)

	parts := make([]string, 0, len(pts))
	for i, p := range pts {
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		parts = append(parts, fmt.Sprintf("%s%.1f,%.1f", cmd, xAt(i), yAt(p.Value)))
	}
	fmt.Fprintf(&sb, `<path d="%s" fill="none" stroke="%s" stroke-width="2"/>`, strings.Join(parts, " "), cfg.LineColor)

	fmt.Fprintf(&sb, `<text x="%d" y="%d" font-size="%d" fill="%s" text-anchor="middle">%s</text>`,
		px+pw/2, cfg.Height-20, cfg.FontSize+2, cfg.TextColor, escapeXML(xLabel))
	fmt.Fprintf(&sb, `<text x="20" y="%d" font-size="%d" fill="%s" text-anchor="middle" transform="rotate(-90 20 %d)">%s</text>`,
		py+ph/2, cfg.FontSize+2, cfg.TextColor, py+ph/2, escapeXML(yLabel))

	sb.WriteString("</svg>")
	return sb.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
