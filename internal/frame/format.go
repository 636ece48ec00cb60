package frame

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Render formats the frame as an aligned text table with a leading row
// index, the way a dataframe prints in a notebook. At most maxRows rows are
// shown; the rest are elided with "...". maxRows <= 0 shows everything.
func Render(f *Frame, maxRows int) string {
	return RenderIndexed(f, nil, maxRows)
}

// RenderIndexed is Render with explicit row labels. A nil index numbers rows
// from zero.
func RenderIndexed(f *Frame, index []string, maxRows int) string {
	if f.Width() == 0 {
		return "Empty DataFrame"
	}
	rows := span(0, f.Len())
	elided := false
	if maxRows > 0 && f.Len() > maxRows {
		half := maxRows / 2
		rows = append(span(0, maxRows-half), span(f.Len()-half, f.Len())...)
		elided = true
	}

	label := func(i int) string {
		if index != nil && i < len(index) {
			return index[i]
		}
		return fmt.Sprint(i)
	}

	widths := make([]int, f.Width()+1)
	for _, i := range rows {
		widths[0] = max(widths[0], utf8.RuneCountInString(label(i)))
	}
	for j, n := range f.names {
		widths[j+1] = utf8.RuneCountInString(n)
		for _, i := range rows {
			widths[j+1] = max(widths[j+1], utf8.RuneCountInString(displayCell(f.cols[n][i])))
		}
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", widths[0]))
	for j, n := range f.names {
		b.WriteString("  ")
		b.WriteString(padLeft(n, widths[j+1]))
	}
	b.WriteByte('\n')

	half := len(rows)
	if elided {
		half = maxRows - maxRows/2
	}
	for k, i := range rows {
		if elided && k == half {
			b.WriteString(padLeft("...", widths[0]))
			for j := range f.names {
				b.WriteString("  ")
				b.WriteString(padLeft("...", widths[j+1]))
			}
			b.WriteByte('\n')
		}
		b.WriteString(padRight(label(i), widths[0]))
		for j, n := range f.names {
			b.WriteString("  ")
			b.WriteString(padLeft(displayCell(f.cols[n][i]), widths[j+1]))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n[%d rows x %d columns]", f.Len(), f.Width())
	return b.String()
}

func displayCell(c Cell) string {
	s := c.String()
	if utf8.RuneCountInString(s) > 60 {
		r := []rune(s)
		s = string(r[:57]) + "..."
	}
	return strings.ReplaceAll(s, "\n", " ")
}

func padLeft(s string, w int) string {
	n := utf8.RuneCountInString(s)
	if n >= w {
		return s
	}
	return strings.Repeat(" ", w-n) + s
}

func padRight(s string, w int) string {
	n := utf8.RuneCountInString(s)
	if n >= w {
		return s
	}
	return s + strings.Repeat(" ", w-n)
}
