package dfquery

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/seenimoa/stockagent/internal/frame"
)

// MaxDisplayRows bounds how many rows a formatted Series or DataFrame shows.
// Longer results keep their first and last rows around a "..." marker.
const MaxDisplayRows = 20

// Format renders a value the way a notebook prints it: scalars bare,
// Series with their index and dtype, DataFrames as aligned tables.
func Format(v Value) string {
	switch x := v.(type) {
	case *Scalar:
		if x.Cell.IsNull() {
			return "nan"
		}
		return x.Cell.Text()
	case *Series:
		return formatSeries(x, MaxDisplayRows)
	case *Table:
		return formatTable(x, MaxDisplayRows)
	case *List:
		return repr(x)
	case nil:
		return "None"
	}
	return "<" + v.typeName() + ">"
}

func formatTable(t *Table, maxRows int) string {
	if t.Len() == 0 {
		return fmt.Sprintf("Empty DataFrame\nColumns: [%s]\nIndex: []", strings.Join(t.Frame.Columns(), ", "))
	}
	return frame.RenderIndexed(t.Frame, labels(t.Index), maxRows)
}

func formatSeries(s *Series, maxRows int) string {
	trailer := make([]string, 0, 3)
	if s.Name != "" {
		trailer = append(trailer, "Name: "+s.Name)
	}
	if s.Len() == 0 {
		trailer = append(trailer, "dtype: "+dtype(s.Cells))
		return "Series([], " + strings.Join(trailer, ", ") + ")"
	}

	rows := span(s.Len())
	elided := maxRows > 0 && s.Len() > maxRows
	head := len(rows)
	if elided {
		head = maxRows - maxRows/2
		rows = append(span(head), tailSpan(s.Len(), maxRows/2)...)
		trailer = append(trailer, fmt.Sprintf("Length: %d", s.Len()))
	}
	trailer = append(trailer, "dtype: "+dtype(s.Cells))

	labelW, valueW := 0, 0
	for _, i := range rows {
		labelW = max(labelW, utf8.RuneCountInString(s.Index[i].String()))
		valueW = max(valueW, utf8.RuneCountInString(s.Cells[i].String()))
	}

	var b strings.Builder
	for k, i := range rows {
		if elided && k == head {
			fmt.Fprintf(&b, "%-*s    %*s\n", labelW, "...", valueW, "...")
		}
		fmt.Fprintf(&b, "%-*s    %*s\n", labelW, s.Index[i].String(), valueW, s.Cells[i].String())
	}
	b.WriteString(strings.Join(trailer, ", "))
	return b.String()
}

func tailSpan(length, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = length - n + i
	}
	return out
}
