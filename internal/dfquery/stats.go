package dfquery

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/seenimoa/stockagent/internal/frame"
)

// aggregates lists the reductions shared by Series, DataFrame, groupby and
// rolling windows.
var aggregates = map[string]bool{
	"mean": true, "sum": true, "min": true, "max": true, "median": true,
	"std": true, "var": true, "prod": true, "count": true, "nunique": true,
	"first": true, "last": true,
}

// numericOnly lists the reductions that are undefined for text.
var numericOnly = map[string]bool{
	"mean": true, "sum": true, "median": true, "std": true, "var": true, "prod": true,
}

// aggregate reduces cells with pandas semantics: missing values are
// skipped, an empty mean is NaN, an empty sum is zero, and std and var use
// one degree of freedom.
func aggregate(name string, cells []frame.Cell) (frame.Cell, error) {
	switch name {
	case "count":
		n := 0
		for _, c := range cells {
			if !c.IsNull() {
				n++
			}
		}
		return frame.Num(float64(n)), nil
	case "nunique":
		return frame.Num(float64(len(distinct(cells, false)))), nil
	case "first", "last":
		for i := range cells {
			j := i
			if name == "last" {
				j = len(cells) - 1 - i
			}
			if !cells[j].IsNull() {
				return cells[j], nil
			}
		}
		return frame.Null(), nil
	case "min", "max":
		return extreme(name, cells)
	}

	xs, err := numbers(cells)
	if err != nil {
		return frame.Null(), fmt.Errorf("%s: %w", name, err)
	}
	switch name {
	case "sum":
		s := 0.0
		for _, x := range xs {
			s += x
		}
		return frame.Num(s), nil
	case "prod":
		p := 1.0
		for _, x := range xs {
			p *= x
		}
		return frame.Num(p), nil
	case "mean":
		if len(xs) == 0 {
			return frame.Null(), nil
		}
		return frame.Num(mean(xs)), nil
	case "median":
		if len(xs) == 0 {
			return frame.Null(), nil
		}
		sorted := slices.Clone(xs)
		sort.Float64s(sorted)
		return frame.Num(quantile(sorted, 0.5)), nil
	case "std":
		return frame.Num(math.Sqrt(variance(xs, 1))), nil
	case "var":
		return frame.Num(variance(xs, 1)), nil
	}
	return frame.Null(), fmt.Errorf("unknown aggregate %q", name)
}

// numbers returns the non-missing values as floats. Text is an error.
func numbers(cells []frame.Cell) ([]float64, error) {
	xs := make([]float64, 0, len(cells))
	for _, c := range cells {
		switch c.Kind {
		case frame.KindNull:
		case frame.KindString:
			return nil, fmt.Errorf("could not convert string %q to numeric", c.Str)
		default:
			x, _ := c.Float()
			xs = append(xs, x)
		}
	}
	return xs, nil
}

func extreme(name string, cells []frame.Cell) (frame.Cell, error) {
	best := frame.Null()
	for _, c := range cells {
		if c.IsNull() {
			continue
		}
		if !best.IsNull() && (best.Kind == frame.KindString) != (c.Kind == frame.KindString) {
			return frame.Null(), fmt.Errorf("'%s' not supported between str and float", name)
		}
		if best.IsNull() || (name == "max" && best.Less(c)) || (name == "min" && c.Less(best)) {
			best = c
		}
	}
	return best, nil
}

// argExtreme returns the position of the first max or min, ignoring
// missing values.
func argExtreme(name string, cells []frame.Cell) (int, error) {
	pos := -1
	for i, c := range cells {
		if c.IsNull() {
			continue
		}
		if c.Kind == frame.KindString {
			return -1, fmt.Errorf("%s: could not convert string %q to numeric", name, c.Str)
		}
		if pos < 0 || (name == "idxmax" && cells[pos].Less(c)) || (name == "idxmin" && c.Less(cells[pos])) {
			pos = i
		}
	}
	if pos < 0 {
		return -1, fmt.Errorf("attempt to get %s of an empty sequence", name)
	}
	return pos, nil
}

func mean(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func variance(xs []float64, ddof int) float64 {
	if len(xs)-ddof <= 0 {
		return math.NaN()
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return ss / float64(len(xs)-ddof)
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// pearson is the correlation of the pairwise complete observations.
func pearson(a, b []frame.Cell) float64 {
	var xs, ys []float64
	for i := range a {
		if a[i].IsNull() || b[i].IsNull() {
			continue
		}
		x, ok1 := a[i].Float()
		y, ok2 := b[i].Float()
		if ok1 && ok2 {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	return sxy / math.Sqrt(sxx*syy)
}

// distinct returns the unique cells in first-seen order.
func distinct(cells []frame.Cell, keepNull bool) []frame.Cell {
	seen := make(map[string]bool)
	var out []frame.Cell
	for _, c := range cells {
		if c.IsNull() && !keepNull {
			continue
		}
		k := cellKey(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// cellKey identifies a cell value for grouping and counting.
func cellKey(c frame.Cell) string {
	if c.Kind == frame.KindString {
		return "s:" + c.Str
	}
	if c.IsNull() {
		return "null"
	}
	return "n:" + c.Text()
}

// describeCells returns the summary statistics pandas prints for describe.
func describeCells(cells []frame.Cell) ([]string, []frame.Cell) {
	if !isNumericCells(cells) {
		uniq := distinct(cells, false)
		counts := make(map[string]int)
		top, freq := frame.Null(), 0
		for _, c := range cells {
			if c.IsNull() {
				continue
			}
			k := cellKey(c)
			counts[k]++
			if counts[k] > freq {
				top, freq = c, counts[k]
			}
		}
		count, _ := aggregate("count", cells)
		return []string{"count", "unique", "top", "freq"},
			[]frame.Cell{count, frame.Num(float64(len(uniq))), top, frame.Num(float64(freq))}
	}

	xs, _ := numbers(cells)
	sorted := slices.Clone(xs)
	sort.Float64s(sorted)
	stat := func(v float64) frame.Cell { return frame.Num(v) }
	meanCell, minCell, maxCell := frame.Null(), frame.Null(), frame.Null()
	if len(xs) > 0 {
		meanCell = stat(mean(xs))
		minCell = stat(sorted[0])
		maxCell = stat(sorted[len(sorted)-1])
	}
	return []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"},
		[]frame.Cell{
			frame.Num(float64(len(xs))),
			meanCell,
			stat(math.Sqrt(variance(xs, 1))),
			minCell,
			stat(quantile(sorted, 0.25)),
			stat(quantile(sorted, 0.5)),
			stat(quantile(sorted, 0.75)),
			maxCell,
		}
}

// sortPositions returns a stable ordering of positions by the key columns.
// Missing values sort last in either direction.
func sortPositions(length int, keys [][]frame.Cell, ascending []bool) []int {
	pos := span(length)
	sort.SliceStable(pos, func(i, j int) bool {
		a, b := pos[i], pos[j]
		for k, col := range keys {
			x, y := col[a], col[b]
			switch {
			case x.IsNull() && y.IsNull():
				continue
			case x.IsNull():
				return false
			case y.IsNull():
				return true
			}
			if x.Less(y) {
				return ascending[k]
			}
			if y.Less(x) {
				return !ascending[k]
			}
		}
		return false
	})
	return pos
}

// roundHalfEven rounds to the given number of decimals, ties to even.
func roundHalfEven(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	r := math.RoundToEven(v*p) / p
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return v
	}
	return r
}

// ewmMean is the exponentially weighted mean with smoothing factor alpha.
// Missing values keep the previous mean and still decay the older
// observations. With adjust the weights are normalised over the observed
// history; without it the mean is the recursive y = (1-alpha)*y + alpha*x.
func ewmMean(cells []frame.Cell, alpha float64, adjust bool) ([]frame.Cell, error) {
	out := make([]frame.Cell, len(cells))
	decay := 1 - alpha
	newWt := alpha
	if adjust {
		newWt = 1
	}

	weighted, oldWt := math.NaN(), 1.0
	for i, c := range cells {
		if c.Kind == frame.KindString {
			return nil, fmt.Errorf("could not convert string %q to numeric", c.Str)
		}
		x, ok := c.Float()
		observed := ok && !c.IsNull() && !math.IsNaN(x)

		switch {
		case math.IsNaN(weighted):
			if observed {
				weighted = x
			}
		default:
			oldWt *= decay
			if observed {
				if weighted != x {
					weighted = (oldWt*weighted + newWt*x) / (oldWt + newWt)
				}
				if adjust {
					oldWt += newWt
				} else {
					oldWt = 1
				}
			}
		}

		if math.IsNaN(weighted) {
			out[i] = frame.Null()
		} else {
			out[i] = frame.Num(weighted)
		}
	}
	return out, nil
}
