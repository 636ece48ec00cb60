package dfquery

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/seenimoa/stockagent/internal/frame"
)

// ════════════════════════════════════════════════════════════════════
// Calls
// ════════════════════════════════════════════════════════════════════

// callArgs carries the evaluated arguments of one call.
type callArgs struct {
	node *CallExpr
	name string
	pos  []Value
	kw   map[string]Value
}

func (ev *Evaluator) call(n *CallExpr) (Value, error) {
	fn, err := ev.eval(n.Func)
	if err != nil {
		return nil, err
	}
	a := &callArgs{node: n, kw: make(map[string]Value, len(n.Kwargs))}
	for _, arg := range n.Args {
		v, err := ev.eval(arg)
		if err != nil {
			return nil, err
		}
		a.pos = append(a.pos, v)
	}
	for _, kw := range n.Kwargs {
		v, err := ev.eval(kw.Value)
		if err != nil {
			return nil, err
		}
		a.kw[kw.Name] = v
	}

	switch f := fn.(type) {
	case *builtinFunc:
		a.name = f.name
		return callBuiltin(a)
	case *boundMethod:
		a.name = f.name
		switch r := f.recv.(type) {
		case *Table:
			return tableMethod(a, r)
		case *Series:
			return seriesMethod(a, r)
		case *accessor:
			return strMethod(a, r.recv.(*Series))
		case *groupBy:
			return groupMethod(a, r)
		case *rolling:
			return rollingMethod(a, r)
		case *ewm:
			return ewmMethod(a, r)
		case *module:
			return moduleFunc(a, r)
		case *List:
			return listMethod(a, r)
		case *Scalar:
			return scalarMethod(a, r)
		}
	}
	return nil, evalErrorf(n.Func, "'%s' object is not callable", fn.typeName())
}

// ── Argument helpers ──

func (a *callArgs) errorf(format string, args ...any) error {
	return evalErrorf(a.node, "%s: %s", a.name, fmt.Sprintf(format, args...))
}

// arg returns keyword key, or positional i when key was not given. A
// negative i means keyword-only.
func (a *callArgs) arg(i int, key string) Value {
	if v, ok := a.kw[key]; ok && key != "" {
		return v
	}
	if i >= 0 && i < len(a.pos) {
		return a.pos[i]
	}
	return nil
}

func (a *callArgs) scalarArg(i int, key string) (*Scalar, bool, error) {
	v := a.arg(i, key)
	if v == nil {
		return nil, false, nil
	}
	s, ok := v.(*Scalar)
	if !ok {
		return nil, false, a.errorf("argument %s must be a scalar, got %s", argName(i, key), v.typeName())
	}
	return s, true, nil
}

func (a *callArgs) intArg(i int, key string, def int) (int, error) {
	s, ok, err := a.scalarArg(i, key)
	if err != nil || !ok || s.Cell.IsNull() {
		return def, err
	}
	v, ok := intOf(s.Cell)
	if !ok {
		return 0, a.errorf("argument %s must be an integer", argName(i, key))
	}
	return v, nil
}

func (a *callArgs) floatArg(i int, key string, def float64) (float64, error) {
	s, ok, err := a.scalarArg(i, key)
	if err != nil || !ok || s.Cell.IsNull() {
		return def, err
	}
	v, ok := s.Cell.Float()
	if !ok {
		return 0, a.errorf("argument %s must be a number", argName(i, key))
	}
	return v, nil
}

func (a *callArgs) boolArg(i int, key string, def bool) (bool, error) {
	s, ok, err := a.scalarArg(i, key)
	if err != nil || !ok || s.Cell.IsNull() {
		return def, err
	}
	return truthy(s.Cell), nil
}

func (a *callArgs) stringArg(i int, key string, def string) (string, error) {
	v := a.arg(i, key)
	switch s := v.(type) {
	case nil:
		return def, nil
	case *Scalar:
		if s.Cell.IsNull() {
			return def, nil
		}
		return s.Cell.Text(), nil
	case *builtinFunc:
		return s.name, nil
	}
	return "", a.errorf("argument %s must be a string", argName(i, key))
}

// namesArg accepts a column name or a list of names. Absent returns nil.
func (a *callArgs) namesArg(i int, key string) ([]string, error) {
	switch v := a.arg(i, key).(type) {
	case nil:
		return nil, nil
	case *Scalar:
		return []string{v.Cell.Text()}, nil
	case *List:
		return stringItems(a.node, v)
	}
	return nil, a.errorf("argument %s must be a column name or a list of names", argName(i, key))
}

// ascendingArg accepts a bool or a list of bools, one per sort key.
func (a *callArgs) ascendingArg(i int, keys int) ([]bool, error) {
	out := make([]bool, keys)
	switch v := a.arg(i, "ascending").(type) {
	case nil:
		for k := range out {
			out[k] = true
		}
	case *Scalar:
		for k := range out {
			out[k] = truthy(v.Cell)
		}
	case *List:
		if len(v.Items) != keys {
			return nil, a.errorf("ascending has %d entries for %d sort keys", len(v.Items), keys)
		}
		for k, it := range v.Items {
			s, ok := it.(*Scalar)
			out[k] = ok && truthy(s.Cell)
		}
	default:
		return nil, a.errorf("ascending must be a bool or a list of bools")
	}
	return out, nil
}

func argName(i int, key string) string {
	if key != "" {
		return key
	}
	return strconv.Itoa(i)
}

// valuesOf flattens a list, series or scalar argument to cells.
func valuesOf(v Value) ([]frame.Cell, bool) {
	switch x := v.(type) {
	case *List:
		return listCells(x), true
	case *Series:
		return x.Cells, true
	case *Scalar:
		return []frame.Cell{x.Cell}, true
	}
	return nil, false
}

// ════════════════════════════════════════════════════════════════════
// DataFrame methods
// ════════════════════════════════════════════════════════════════════

var tableMethods = setOf(
	"head", "tail", "describe", "sort_values", "sort_index", "nlargest", "nsmallest",
	"mean", "sum", "min", "max", "median", "std", "var", "prod", "count", "nunique",
	"first", "last", "quantile", "idxmax", "idxmin", "groupby", "set_index", "reset_index",
	"dropna", "fillna", "copy", "drop", "round", "to_string", "abs", "isna", "isnull",
	"notna", "notnull", "cumsum", "pct_change", "diff", "shift", "corr", "value_counts",
)

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func tableMethod(a *callArgs, t *Table) (Value, error) {
	switch a.name {
	case "head", "tail":
		k, err := a.intArg(0, "n", 5)
		if err != nil {
			return nil, err
		}
		return t.take(headTail(a.name, k, t.Len())), nil

	case "describe":
		return describeTable(a, t)

	case "sort_values":
		by, err := a.namesArg(0, "by")
		if err != nil {
			return nil, err
		}
		if len(by) == 0 {
			return nil, a.errorf("missing argument 'by'")
		}
		asc, err := a.ascendingArg(1, len(by))
		if err != nil {
			return nil, err
		}
		keys := make([][]frame.Cell, len(by))
		for k, name := range by {
			col, ok := t.Frame.Column(name)
			if !ok {
				return nil, a.errorf("column %q not found", name)
			}
			keys[k] = col
		}
		return t.take(sortPositions(t.Len(), keys, asc)), nil

	case "sort_index":
		asc, err := a.ascendingArg(-1, 1)
		if err != nil {
			return nil, err
		}
		return t.take(sortPositions(t.Len(), [][]frame.Cell{t.Index}, asc)), nil

	case "nlargest", "nsmallest":
		k, err := a.intArg(0, "n", 5)
		if err != nil {
			return nil, err
		}
		cols, err := a.namesArg(1, "columns")
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, a.errorf("missing argument 'columns'")
		}
		keys := make([][]frame.Cell, len(cols))
		asc := make([]bool, len(cols))
		for i, name := range cols {
			col, ok := t.Frame.Column(name)
			if !ok {
				return nil, a.errorf("column %q not found", name)
			}
			keys[i] = col
			asc[i] = a.name == "nsmallest"
		}
		var pos []int
		for _, p := range sortPositions(t.Len(), keys, asc) {
			if !keys[0][p].IsNull() && len(pos) < k {
				pos = append(pos, p)
			}
		}
		return t.take(pos), nil

	case "mean", "sum", "min", "max", "median", "std", "var", "prod", "count", "nunique", "first", "last":
		var names []string
		var cells []frame.Cell
		for _, col := range t.Frame.Columns() {
			vals, _ := t.Frame.Column(col)
			if numericOnly[a.name] && !isNumericCells(vals) {
				continue
			}
			c, err := aggregate(a.name, vals)
			if err != nil {
				continue
			}
			names = append(names, col)
			cells = append(cells, c)
		}
		return &Series{Index: strCells(names), Cells: cells}, nil

	case "quantile":
		q, err := a.floatArg(0, "q", 0.5)
		if err != nil {
			return nil, err
		}
		return columnwise(t, func(s *Series) (frame.Cell, bool) {
			xs, err := numbers(s.Cells)
			if err != nil {
				return frame.Null(), false
			}
			sort.Float64s(xs)
			return frame.Num(quantile(xs, q)), true
		}, a.name), nil

	case "idxmax", "idxmin":
		return columnwise(t, func(s *Series) (frame.Cell, bool) {
			p, err := argExtreme(a.name, s.Cells)
			if err != nil {
				return frame.Null(), false
			}
			return s.Index[p], true
		}, ""), nil

	case "groupby":
		by, err := a.namesArg(0, "by")
		if err != nil {
			return nil, err
		}
		if len(by) != 1 {
			return nil, a.errorf("grouping by exactly one column is supported")
		}
		if !t.Frame.Has(by[0]) {
			return nil, a.errorf("column %q not found", by[0])
		}
		return &groupBy{table: t, key: by[0]}, nil

	case "set_index":
		key, err := a.stringArg(0, "keys", "")
		if err != nil {
			return nil, err
		}
		col, ok := t.Frame.Column(key)
		if !ok {
			return nil, a.errorf("column %q not found", key)
		}
		return &Table{Frame: t.Frame.Drop(key), Index: col}, nil

	case "reset_index":
		drop, err := a.boolArg(-1, "drop", false)
		if err != nil {
			return nil, err
		}
		f := t.Frame.Clone()
		if !drop {
			name := "index"
			if f.Has(name) {
				name = "level_0"
			}
			if err := f.InsertColumn(0, name, append([]frame.Cell(nil), t.Index...)); err != nil {
				return nil, a.errorf("%v", err)
			}
		}
		return NewTable(f), nil

	case "dropna":
		subset, err := a.namesArg(-1, "subset")
		if err != nil {
			return nil, err
		}
		if subset == nil {
			subset = t.Frame.Columns()
		}
		var pos []int
		for i := 0; i < t.Len(); i++ {
			keep := true
			for _, col := range subset {
				if t.Frame.At(i, col).IsNull() {
					keep = false
					break
				}
			}
			if keep {
				pos = append(pos, i)
			}
		}
		return t.take(pos), nil

	case "fillna":
		fill, ok, err := a.scalarArg(0, "value")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, a.errorf("missing argument 'value'")
		}
		return mapCells(a.node, t, func(c frame.Cell) (frame.Cell, error) {
			if c.IsNull() {
				return fill.Cell, nil
			}
			return c, nil
		})

	case "copy":
		return t, nil

	case "drop":
		cols, err := a.namesArg(-1, "columns")
		if err != nil {
			return nil, err
		}
		axis, err := a.stringArg(-1, "axis", "0")
		if err != nil {
			return nil, err
		}
		if cols == nil && (axis == "1" || axis == "columns") {
			if cols, err = a.namesArg(0, "labels"); err != nil {
				return nil, err
			}
		}
		if cols != nil {
			for _, c := range cols {
				if !t.Frame.Has(c) {
					return nil, a.errorf("column %q not found", c)
				}
			}
			return &Table{Frame: t.Frame.Drop(cols...), Index: t.Index}, nil
		}
		rows, ok := valuesOf(a.arg(0, "index"))
		if !ok {
			return nil, a.errorf("nothing to drop")
		}
		var pos []int
		for i, l := range t.Index {
			if !containsCell(rows, l) {
				pos = append(pos, i)
			}
		}
		return t.take(pos), nil

	case "round":
		d, err := a.intArg(0, "decimals", 0)
		if err != nil {
			return nil, err
		}
		return mapCells(a.node, t, roundCell(d))

	case "to_string":
		return str(frame.RenderIndexed(t.Frame, labels(t.Index), 0)), nil

	case "abs":
		return mapCells(a.node, t, absCell)

	case "isna", "isnull", "notna", "notnull":
		want := a.name == "isna" || a.name == "isnull"
		return mapCells(a.node, t, func(c frame.Cell) (frame.Cell, error) {
			return frame.Bool(c.IsNull() == want), nil
		})

	case "cumsum", "pct_change", "diff", "shift":
		out := frame.New()
		for _, col := range t.Frame.Columns() {
			s, _ := t.column(col)
			if a.name != "shift" && !isNumericCells(s.Cells) {
				continue
			}
			v, err := seriesMethod(a, s)
			if err != nil {
				return nil, err
			}
			if err := out.AddColumn(col, v.(*Series).Cells); err != nil {
				return nil, a.errorf("%v", err)
			}
		}
		return &Table{Frame: out, Index: t.Index}, nil

	case "corr":
		var cols []string
		for _, col := range t.Frame.Columns() {
			if t.Frame.IsNumeric(col) {
				cols = append(cols, col)
			}
		}
		out := frame.New()
		for _, c1 := range cols {
			x, _ := t.Frame.Column(c1)
			cells := make([]frame.Cell, len(cols))
			for i, c2 := range cols {
				y, _ := t.Frame.Column(c2)
				cells[i] = frame.Num(pearson(x, y))
			}
			if err := out.AddColumn(c1, cells); err != nil {
				return nil, a.errorf("%v", err)
			}
		}
		return &Table{Frame: out, Index: strCells(cols)}, nil

	case "value_counts":
		cols := t.Frame.Columns()
		if len(cols) != 1 {
			return nil, a.errorf("value_counts on a DataFrame needs exactly one column")
		}
		s, _ := t.column(cols[0])
		return seriesMethod(a, s)
	}
	return nil, a.errorf("unsupported DataFrame method")
}

// headTail returns the positions kept by head(k) or tail(k). A negative k
// drops that many rows from the other end.
func headTail(name string, k, length int) []int {
	if k < 0 {
		k = max(length+k, 0)
	}
	k = min(k, length)
	if name == "head" {
		return span(k)
	}
	out := make([]int, k)
	for i := range out {
		out[i] = length - k + i
	}
	return out
}

// columnwise reduces each column that fn accepts into one series.
func columnwise(t *Table, fn func(*Series) (frame.Cell, bool), name string) *Series {
	var idx, cells []frame.Cell
	for _, col := range t.Frame.Columns() {
		s, _ := t.column(col)
		c, ok := fn(s)
		if !ok {
			continue
		}
		idx = append(idx, frame.Str(col))
		cells = append(cells, c)
	}
	return &Series{Name: name, Index: idx, Cells: cells}
}

func describeTable(a *callArgs, t *Table) (Value, error) {
	var cols []string
	for _, col := range t.Frame.Columns() {
		if t.Frame.IsNumeric(col) {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		cols = t.Frame.Columns()
	}
	out := frame.New()
	var stats []string
	for _, col := range cols {
		cells, _ := t.Frame.Column(col)
		names, vals := describeCells(cells)
		if stats == nil {
			stats = names
		}
		if len(vals) != len(stats) {
			continue
		}
		if err := out.AddColumn(col, vals); err != nil {
			return nil, a.errorf("%v", err)
		}
	}
	return &Table{Frame: out, Index: strCells(stats)}, nil
}

// ════════════════════════════════════════════════════════════════════
// Series methods
// ════════════════════════════════════════════════════════════════════

var seriesMethods = setOf(
	"mean", "sum", "min", "max", "median", "std", "var", "prod", "count", "nunique",
	"first", "last", "quantile", "idxmax", "idxmin", "argmax", "argmin", "head", "tail",
	"pct_change", "diff", "shift", "abs", "round", "unique", "tolist", "to_list",
	"value_counts", "cumsum", "cumprod", "cummax", "cummin", "isin", "between", "dropna",
	"fillna", "sort_values", "sort_index", "nlargest", "nsmallest", "rolling", "ewm", "corr",
	"describe", "astype", "isna", "isnull", "notna", "notnull", "any", "all",
	"reset_index", "item", "copy", "agg", "aggregate", "mode",
)

func seriesMethod(a *callArgs, s *Series) (Value, error) {
	switch a.name {
	case "mean", "sum", "min", "max", "median", "std", "var", "prod", "count", "nunique", "first", "last":
		c, err := aggregate(a.name, s.Cells)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		return cellValue(c), nil

	case "agg", "aggregate":
		return seriesAgg(a, s)

	case "quantile":
		xs, err := numbers(s.Cells)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		sort.Float64s(xs)
		if qs, ok := a.arg(0, "q").(*List); ok {
			out := make([]frame.Cell, len(qs.Items))
			idx := listCells(qs)
			for i, q := range idx {
				v, _ := q.Float()
				out[i] = frame.Num(quantile(xs, v))
			}
			return &Series{Name: s.Name, Index: idx, Cells: out}, nil
		}
		q, err := a.floatArg(0, "q", 0.5)
		if err != nil {
			return nil, err
		}
		return num(quantile(xs, q)), nil

	case "idxmax", "idxmin", "argmax", "argmin":
		name := "idx" + strings.TrimPrefix(strings.TrimPrefix(a.name, "idx"), "arg")
		p, err := argExtreme(name, s.Cells)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		if strings.HasPrefix(a.name, "arg") {
			return num(float64(p)), nil
		}
		return cellValue(s.Index[p]), nil

	case "head", "tail":
		k, err := a.intArg(0, "n", 5)
		if err != nil {
			return nil, err
		}
		return s.take(headTail(a.name, k, s.Len())), nil

	case "pct_change", "diff", "shift":
		periods, err := a.intArg(0, "periods", 1)
		if err != nil {
			return nil, err
		}
		out := make([]frame.Cell, s.Len())
		for i := range out {
			j := i - periods
			if j < 0 || j >= s.Len() {
				continue
			}
			prev, cur := s.Cells[j], s.Cells[i]
			switch a.name {
			case "shift":
				out[i] = prev
			case "diff":
				out[i], _ = cellOp(TokenMinus, cur, prev)
			case "pct_change":
				d, _ := cellOp(TokenMinus, cur, prev)
				out[i], _ = cellOp(TokenSlash, d, prev)
			}
		}
		return s.withCells(out), nil

	case "abs":
		return mapCells(a.node, s, absCell)

	case "round":
		d, err := a.intArg(0, "decimals", 0)
		if err != nil {
			return nil, err
		}
		return mapCells(a.node, s, roundCell(d))

	case "unique":
		return cellList(distinct(s.Cells, true)), nil

	case "tolist", "to_list":
		return cellList(s.Cells), nil

	case "value_counts":
		return valueCounts(a, s)

	case "mode":
		counts, err := valueCounts(a, s)
		if err != nil {
			return nil, err
		}
		vc := counts.(*Series)
		if vc.Len() == 0 {
			return &Series{Name: s.Name}, nil
		}
		var modes []frame.Cell
		for i, c := range vc.Cells {
			if c.Equal(vc.Cells[0]) {
				modes = append(modes, vc.Index[i])
			}
		}
		sorted := sortPositions(len(modes), [][]frame.Cell{modes}, []bool{true})
		return &Series{Name: s.Name, Index: rangeIndex(len(modes)), Cells: takeCells(modes, sorted)}, nil

	case "cumsum", "cumprod", "cummax", "cummin":
		out := make([]frame.Cell, s.Len())
		acc := frame.Null()
		for i, c := range s.Cells {
			if c.IsNull() {
				out[i] = c
				continue
			}
			if c.Kind == frame.KindString {
				return nil, a.errorf("could not convert string %q to numeric", c.Str)
			}
			if acc.IsNull() {
				acc = c
			} else {
				switch a.name {
				case "cumsum":
					acc, _ = cellOp(TokenPlus, acc, c)
				case "cumprod":
					acc, _ = cellOp(TokenStar, acc, c)
				case "cummax":
					if acc.Less(c) {
						acc = c
					}
				case "cummin":
					if c.Less(acc) {
						acc = c
					}
				}
			}
			out[i] = acc
		}
		return s.withCells(out), nil

	case "isin":
		vals, ok := valuesOf(a.arg(0, "values"))
		if !ok {
			return nil, a.errorf("values must be a list")
		}
		out := make([]frame.Cell, s.Len())
		for i, c := range s.Cells {
			out[i] = frame.Bool(containsCell(vals, c))
		}
		return s.withCells(out), nil

	case "between":
		lo, ok1, err := a.scalarArg(0, "left")
		if err != nil {
			return nil, err
		}
		hi, ok2, err := a.scalarArg(1, "right")
		if err != nil {
			return nil, err
		}
		if !ok1 || !ok2 {
			return nil, a.errorf("left and right bounds are required")
		}
		inclusive, err := a.stringArg(2, "inclusive", "both")
		if err != nil {
			return nil, err
		}
		loOp, hiOp := TokenGTE, TokenLTE
		if inclusive == "neither" || inclusive == "right" {
			loOp = TokenGT
		}
		if inclusive == "neither" || inclusive == "left" {
			hiOp = TokenLT
		}
		out := make([]frame.Cell, s.Len())
		for i, c := range s.Cells {
			x, err := cellOp(loOp, c, lo.Cell)
			if err != nil {
				return nil, a.errorf("%v", err)
			}
			y, err := cellOp(hiOp, c, hi.Cell)
			if err != nil {
				return nil, a.errorf("%v", err)
			}
			out[i] = frame.Bool(truthy(x) && truthy(y))
		}
		return s.withCells(out), nil

	case "dropna":
		var pos []int
		for i, c := range s.Cells {
			if !c.IsNull() {
				pos = append(pos, i)
			}
		}
		return s.take(pos), nil

	case "fillna":
		fill, ok, err := a.scalarArg(0, "value")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, a.errorf("missing argument 'value'")
		}
		return mapCells(a.node, s, func(c frame.Cell) (frame.Cell, error) {
			if c.IsNull() {
				return fill.Cell, nil
			}
			return c, nil
		})

	case "sort_values":
		asc, err := a.ascendingArg(-1, 1)
		if err != nil {
			return nil, err
		}
		return s.take(sortPositions(s.Len(), [][]frame.Cell{s.Cells}, asc)), nil

	case "sort_index":
		asc, err := a.ascendingArg(-1, 1)
		if err != nil {
			return nil, err
		}
		return s.take(sortPositions(s.Len(), [][]frame.Cell{s.Index}, asc)), nil

	case "nlargest", "nsmallest":
		k, err := a.intArg(0, "n", 5)
		if err != nil {
			return nil, err
		}
		var pos []int
		for _, p := range sortPositions(s.Len(), [][]frame.Cell{s.Cells}, []bool{a.name == "nsmallest"}) {
			if !s.Cells[p].IsNull() && len(pos) < k {
				pos = append(pos, p)
			}
		}
		return s.take(pos), nil

	case "rolling":
		w, err := a.intArg(0, "window", 0)
		if err != nil {
			return nil, err
		}
		if w <= 0 {
			return nil, a.errorf("window must be a positive integer")
		}
		return &rolling{series: s, window: w}, nil

	case "ewm":
		alpha, err := ewmAlpha(a)
		if err != nil {
			return nil, err
		}
		adjust, err := a.boolArg(-1, "adjust", true)
		if err != nil {
			return nil, err
		}
		return &ewm{series: s, alpha: alpha, adjust: adjust}, nil

	case "corr":
		other, ok := a.arg(0, "other").(*Series)
		if !ok {
			return nil, a.errorf("other must be a Series")
		}
		if other.Len() != s.Len() {
			return nil, a.errorf("series lengths differ: %d and %d", s.Len(), other.Len())
		}
		return num(pearson(s.Cells, other.Cells)), nil

	case "describe":
		names, vals := describeCells(s.Cells)
		return &Series{Name: s.Name, Index: strCells(names), Cells: vals}, nil

	case "astype":
		typ, err := a.stringArg(0, "dtype", "")
		if err != nil {
			return nil, err
		}
		conv, err := converter(typ)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		return mapCells(a.node, s, conv)

	case "isna", "isnull", "notna", "notnull":
		want := a.name == "isna" || a.name == "isnull"
		return mapCells(a.node, s, func(c frame.Cell) (frame.Cell, error) {
			return frame.Bool(c.IsNull() == want), nil
		})

	case "any", "all":
		all := a.name == "all"
		for _, c := range s.Cells {
			if c.IsNull() {
				continue
			}
			if truthy(c) != all {
				return boolean(!all), nil
			}
		}
		return boolean(all), nil

	case "reset_index":
		drop, err := a.boolArg(-1, "drop", false)
		if err != nil {
			return nil, err
		}
		if drop {
			return &Series{Name: s.Name, Index: rangeIndex(s.Len()), Cells: s.Cells}, nil
		}
		name := s.Name
		if name == "" {
			name = "0"
		}
		f := frame.New()
		_ = f.AddColumn("index", append([]frame.Cell(nil), s.Index...))
		if err := f.AddColumn(name, append([]frame.Cell(nil), s.Cells...)); err != nil {
			return nil, a.errorf("%v", err)
		}
		return NewTable(f), nil

	case "item":
		if s.Len() != 1 {
			return nil, a.errorf("can only convert an array of size 1 to a scalar")
		}
		return cellValue(s.Cells[0]), nil

	case "copy":
		return s, nil
	}
	return nil, a.errorf("unsupported Series method")
}

func seriesAgg(a *callArgs, s *Series) (Value, error) {
	switch v := a.arg(0, "func").(type) {
	case *Scalar, *builtinFunc:
		name, _ := a.stringArg(0, "func", "")
		if !aggregates[name] {
			return nil, a.errorf("unsupported aggregate %q", name)
		}
		c, err := aggregate(name, s.Cells)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		return cellValue(c), nil
	case *List:
		names, err := stringItems(a.node, v)
		if err != nil {
			return nil, err
		}
		out := make([]frame.Cell, len(names))
		for i, name := range names {
			if !aggregates[name] {
				return nil, a.errorf("unsupported aggregate %q", name)
			}
			if out[i], err = aggregate(name, s.Cells); err != nil {
				return nil, a.errorf("%v", err)
			}
		}
		return &Series{Name: s.Name, Index: strCells(names), Cells: out}, nil
	}
	return nil, a.errorf("func must be an aggregate name or a list of names")
}

func valueCounts(a *callArgs, s *Series) (Value, error) {
	normalize, err := a.boolArg(-1, "normalize", false)
	if err != nil {
		return nil, err
	}
	ascending, err := a.boolArg(-1, "ascending", false)
	if err != nil {
		return nil, err
	}
	keys := distinct(s.Cells, false)
	counts := make(map[string]int, len(keys))
	total := 0
	for _, c := range s.Cells {
		if !c.IsNull() {
			counts[cellKey(c)]++
			total++
		}
	}
	cells := make([]frame.Cell, len(keys))
	for i, k := range keys {
		v := float64(counts[cellKey(k)])
		if normalize {
			v /= float64(total)
		}
		cells[i] = frame.Num(v)
	}
	name := "count"
	if normalize {
		name = "proportion"
	}
	out := &Series{Name: name, Index: keys, Cells: cells}
	return out.take(sortPositions(len(cells), [][]frame.Cell{cells}, []bool{ascending})), nil
}

func containsCell(cells []frame.Cell, c frame.Cell) bool {
	for _, v := range cells {
		if v.Equal(c) {
			return true
		}
	}
	return false
}

func absCell(c frame.Cell) (frame.Cell, error) {
	switch c.Kind {
	case frame.KindString:
		return c, fmt.Errorf("bad operand type for abs(): 'str'")
	case frame.KindNull:
		return c, nil
	}
	x, _ := c.Float()
	return frame.Num(math.Abs(x)), nil
}

func roundCell(decimals int) func(frame.Cell) (frame.Cell, error) {
	return func(c frame.Cell) (frame.Cell, error) {
		if c.Kind != frame.KindNumber {
			return c, nil
		}
		return frame.Num(roundHalfEven(c.Num, decimals)), nil
	}
}

// converter maps a dtype name to a cell conversion.
func converter(typ string) (func(frame.Cell) (frame.Cell, error), error) {
	switch typ {
	case "float", "float64", "float32", "int", "int64", "int32":
		integer := strings.HasPrefix(typ, "int")
		return func(c frame.Cell) (frame.Cell, error) {
			if c.IsNull() {
				if integer {
					return c, fmt.Errorf("cannot convert NaN to integer")
				}
				return c, nil
			}
			x, ok := c.Float()
			if !ok {
				return c, fmt.Errorf("could not convert string %q to float", c.Str)
			}
			if integer {
				x = math.Trunc(x)
			}
			return frame.Num(x), nil
		}, nil
	case "str", "string", "object":
		return func(c frame.Cell) (frame.Cell, error) {
			if c.IsNull() {
				return c, nil
			}
			return frame.Str(c.Text()), nil
		}, nil
	case "bool":
		return func(c frame.Cell) (frame.Cell, error) { return frame.Bool(truthy(c)), nil }, nil
	}
	return nil, fmt.Errorf("unsupported dtype %q", typ)
}

// ════════════════════════════════════════════════════════════════════
// Accessors
// ════════════════════════════════════════════════════════════════════

var strMethods = setOf("contains", "startswith", "endswith", "lower", "upper", "strip", "len", "title", "replace")

func strMethod(a *callArgs, s *Series) (Value, error) {
	var apply func(string) (frame.Cell, error)
	switch a.name {
	case "contains":
		pat, err := a.stringArg(0, "pat", "")
		if err != nil {
			return nil, err
		}
		caseSensitive, err := a.boolArg(-1, "case", true)
		if err != nil {
			return nil, err
		}
		useRegex, err := a.boolArg(-1, "regex", true)
		if err != nil {
			return nil, err
		}
		if !useRegex {
			pat = regexp.QuoteMeta(pat)
		}
		if !caseSensitive {
			pat = "(?i)" + pat
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, a.errorf("invalid pattern: %v", err)
		}
		apply = func(v string) (frame.Cell, error) { return frame.Bool(re.MatchString(v)), nil }
	case "startswith", "endswith":
		pat, err := a.stringArg(0, "pat", "")
		if err != nil {
			return nil, err
		}
		apply = func(v string) (frame.Cell, error) {
			if a.name == "startswith" {
				return frame.Bool(strings.HasPrefix(v, pat)), nil
			}
			return frame.Bool(strings.HasSuffix(v, pat)), nil
		}
	case "replace":
		pat, err := a.stringArg(0, "pat", "")
		if err != nil {
			return nil, err
		}
		repl, err := a.stringArg(1, "repl", "")
		if err != nil {
			return nil, err
		}
		apply = func(v string) (frame.Cell, error) { return frame.Str(strings.ReplaceAll(v, pat, repl)), nil }
	case "lower":
		apply = func(v string) (frame.Cell, error) { return frame.Str(strings.ToLower(v)), nil }
	case "upper":
		apply = func(v string) (frame.Cell, error) { return frame.Str(strings.ToUpper(v)), nil }
	case "strip":
		apply = func(v string) (frame.Cell, error) { return frame.Str(strings.TrimSpace(v)), nil }
	case "title":
		apply = func(v string) (frame.Cell, error) { return frame.Str(titleCase(v)), nil }
	case "len":
		apply = func(v string) (frame.Cell, error) { return frame.Num(float64(utf8.RuneCountInString(v))), nil }
	default:
		return nil, a.errorf("unsupported str method")
	}

	isMask := a.name == "contains" || a.name == "startswith" || a.name == "endswith"
	return mapCells(a.node, s, func(c frame.Cell) (frame.Cell, error) {
		if c.Kind != frame.KindString {
			if isMask {
				// missing text never matches, so the mask stays usable
				return frame.Bool(false), nil
			}
			return frame.Null(), nil
		}
		return apply(c.Str)
	})
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func dtAttr(n Node, s *Series, name string) (Value, error) {
	var get func(time.Time) frame.Cell
	switch name {
	case "year":
		get = func(t time.Time) frame.Cell { return frame.Num(float64(t.Year())) }
	case "month":
		get = func(t time.Time) frame.Cell { return frame.Num(float64(t.Month())) }
	case "day":
		get = func(t time.Time) frame.Cell { return frame.Num(float64(t.Day())) }
	case "quarter":
		get = func(t time.Time) frame.Cell { return frame.Num(float64((int(t.Month())-1)/3 + 1)) }
	case "dayofweek", "weekday":
		get = func(t time.Time) frame.Cell { return frame.Num(float64((int(t.Weekday()) + 6) % 7)) }
	case "dayofyear":
		get = func(t time.Time) frame.Cell { return frame.Num(float64(t.YearDay())) }
	case "date":
		get = func(t time.Time) frame.Cell { return frame.Str(t.Format("2006-01-02")) }
	default:
		return nil, evalErrorf(n, "'DatetimeProperties' object has no attribute %q", name)
	}
	out := make([]frame.Cell, s.Len())
	for i, c := range s.Cells {
		t, ok := parseDate(c)
		if !ok {
			if !c.IsNull() {
				return nil, evalErrorf(n, "cannot parse %q as a date", c.Text())
			}
			continue
		}
		out[i] = get(t)
	}
	return s.withCells(out), nil
}

// parseDate reads the date part of an ISO-8601 timestamp.
func parseDate(c frame.Cell) (time.Time, bool) {
	if c.Kind != frame.KindString || len(c.Str) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", c.Str[:10])
	return t, err == nil
}

// ════════════════════════════════════════════════════════════════════
// groupby and rolling
// ════════════════════════════════════════════════════════════════════

var groupMethods = setOf("mean", "sum", "min", "max", "median", "std", "var", "prod", "count", "nunique", "first", "last", "size", "agg", "aggregate")

func groupMethod(a *callArgs, g *groupBy) (Value, error) {
	keyCells, _ := g.table.Frame.Column(g.key)
	keys := distinct(keyCells, false)
	order := sortPositions(len(keys), [][]frame.Cell{keys}, []bool{true})
	keys = takeCells(keys, order)
	members := make(map[string][]int, len(keys))
	for i, c := range keyCells {
		if !c.IsNull() {
			members[cellKey(c)] = append(members[cellKey(c)], i)
		}
	}

	if a.name == "size" {
		cells := make([]frame.Cell, len(keys))
		for i, k := range keys {
			cells[i] = frame.Num(float64(len(members[cellKey(k)])))
		}
		return &Series{Index: keys, Cells: cells}, nil
	}

	funcs := []string{a.name}
	if a.name == "agg" || a.name == "aggregate" {
		switch v := a.arg(0, "func").(type) {
		case *List:
			names, err := stringItems(a.node, v)
			if err != nil {
				return nil, err
			}
			funcs = names
		default:
			name, err := a.stringArg(0, "func", "")
			if err != nil {
				return nil, err
			}
			funcs = []string{name}
		}
	}
	for _, fn := range funcs {
		if !aggregates[fn] {
			return nil, a.errorf("unsupported aggregate %q", fn)
		}
	}

	cols := g.cols
	if cols == nil {
		for _, c := range g.table.Frame.Columns() {
			if c == g.key {
				continue
			}
			vals, _ := g.table.Frame.Column(c)
			if numericOnly[funcs[0]] && !isNumericCells(vals) {
				continue
			}
			cols = append(cols, c)
		}
	}

	reduce := func(col, fn string) ([]frame.Cell, error) {
		vals, _ := g.table.Frame.Column(col)
		out := make([]frame.Cell, len(keys))
		for i, k := range keys {
			c, err := aggregate(fn, takeCells(vals, members[cellKey(k)]))
			if err != nil {
				return nil, a.errorf("column %q: %v", col, err)
			}
			out[i] = c
		}
		return out, nil
	}

	aggList := (a.name == "agg" || a.name == "aggregate") && isList(a.arg(0, "func"))
	if g.one && !aggList {
		cells, err := reduce(cols[0], funcs[0])
		if err != nil {
			return nil, err
		}
		return &Series{Name: cols[0], Index: keys, Cells: cells}, nil
	}

	out := frame.New()
	for _, col := range cols {
		for _, fn := range funcs {
			cells, err := reduce(col, fn)
			if err != nil {
				return nil, err
			}
			name := col
			if len(funcs) > 1 {
				name = fn
				if len(cols) > 1 {
					name = col + "_" + fn
				}
			}
			if err := out.AddColumn(name, cells); err != nil {
				return nil, a.errorf("%v", err)
			}
		}
	}
	return &Table{Frame: out, Index: keys}, nil
}

func isList(v Value) bool {
	_, ok := v.(*List)
	return ok
}

var rollingMethods = setOf("mean", "sum", "min", "max", "median", "std", "var", "count")

func rollingMethod(a *callArgs, r *rolling) (Value, error) {
	s := r.series
	out := make([]frame.Cell, s.Len())
	for i := r.window - 1; i < s.Len(); i++ {
		win := s.Cells[i-r.window+1 : i+1]
		if a.name != "count" && slicesHasNull(win) {
			continue
		}
		c, err := aggregate(a.name, win)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		out[i] = c
	}
	return s.withCells(out), nil
}

var ewmMethods = setOf("mean")

func ewmMethod(a *callArgs, w *ewm) (Value, error) {
	cells, err := ewmMean(w.series.Cells, w.alpha, w.adjust)
	if err != nil {
		return nil, a.errorf("%v", err)
	}
	return w.series.withCells(cells), nil
}

// ewmAlpha derives the smoothing factor from exactly one of com, span,
// halflife or alpha.
func ewmAlpha(a *callArgs) (float64, error) {
	given := 0
	alpha := 0.0
	for i, key := range []string{"com", "span", "halflife", "alpha"} {
		pos := -1
		if i == 0 {
			pos = 0
		}
		if a.arg(pos, key) == nil {
			continue
		}
		v, err := a.floatArg(pos, key, 0)
		if err != nil {
			return 0, err
		}
		given++
		switch key {
		case "com":
			if v < 0 {
				return 0, a.errorf("comass must satisfy: comass >= 0")
			}
			alpha = 1 / (1 + v)
		case "span":
			if v < 1 {
				return 0, a.errorf("span must satisfy: span >= 1")
			}
			alpha = 2 / (v + 1)
		case "halflife":
			if v <= 0 {
				return 0, a.errorf("halflife must satisfy: halflife > 0")
			}
			alpha = 1 - math.Exp(-math.Ln2/v)
		case "alpha":
			if v <= 0 || v > 1 {
				return 0, a.errorf("alpha must satisfy: 0 < alpha <= 1")
			}
			alpha = v
		}
	}
	switch {
	case given == 0:
		return 0, a.errorf("must pass one of comass, span, halflife, or alpha")
	case given > 1:
		return 0, a.errorf("comass, span, halflife, and alpha are mutually exclusive")
	}
	return alpha, nil
}

func slicesHasNull(cells []frame.Cell) bool {
	for _, c := range cells {
		if c.IsNull() {
			return true
		}
	}
	return false
}

// ════════════════════════════════════════════════════════════════════
// Lists and scalars
// ════════════════════════════════════════════════════════════════════

func listMethod(a *callArgs, l *List) (Value, error) {
	switch a.name {
	case "tolist", "to_list":
		return &List{Items: l.Items}, nil
	case "index", "count":
		x, ok, err := a.scalarArg(0, "")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, a.errorf("missing argument")
		}
		n := 0
		for i, it := range l.Items {
			if s, ok := it.(*Scalar); ok && s.Cell.Equal(x.Cell) {
				if a.name == "index" {
					return num(float64(i)), nil
				}
				n++
			}
		}
		if a.name == "index" {
			return nil, a.errorf("%s is not in list", cellRepr(x.Cell))
		}
		return num(float64(n)), nil
	}
	return nil, a.errorf("unsupported list method")
}

func scalarMethod(a *callArgs, s *Scalar) (Value, error) {
	switch a.name {
	case "round":
		d, err := a.intArg(0, "ndigits", 0)
		if err != nil {
			return nil, err
		}
		c, _ := roundCell(d)(s.Cell)
		return cellValue(c), nil
	case "item":
		return s, nil
	case "is_integer":
		x, ok := s.Cell.Float()
		return boolean(ok && s.Cell.Kind == frame.KindNumber && x == math.Trunc(x)), nil
	}
	if strMethods[a.name] {
		v, err := strMethod(a, &Series{Index: rangeIndex(1), Cells: []frame.Cell{s.Cell}})
		if err != nil {
			return nil, err
		}
		return cellValue(v.(*Series).Cells[0]), nil
	}
	return nil, a.errorf("unsupported method")
}

// ════════════════════════════════════════════════════════════════════
// Builtins and modules
// ════════════════════════════════════════════════════════════════════

func callBuiltin(a *callArgs) (Value, error) {
	if a.name != "min" && a.name != "max" && len(a.pos) == 0 && a.name != "list" {
		return nil, a.errorf("expected an argument")
	}
	var x Value
	if len(a.pos) > 0 {
		x = a.pos[0]
	}
	switch a.name {
	case "len":
		switch v := x.(type) {
		case *Table:
			return num(float64(v.Len())), nil
		case *Series:
			return num(float64(v.Len())), nil
		case *List:
			return num(float64(len(v.Items))), nil
		case *Scalar:
			if v.Cell.Kind == frame.KindString {
				return num(float64(utf8.RuneCountInString(v.Cell.Str))), nil
			}
		}
		return nil, a.errorf("object of type %s has no len()", x.typeName())

	case "abs":
		return mapCells(a.node, x, absCell)

	case "round":
		d, err := a.intArg(1, "ndigits", 0)
		if err != nil {
			return nil, err
		}
		return mapCells(a.node, x, roundCell(d))

	case "min", "max":
		var cells []frame.Cell
		if len(a.pos) == 1 {
			vals, ok := valuesOf(x)
			if !ok {
				return nil, a.errorf("argument is not iterable")
			}
			cells = vals
		} else {
			for _, p := range a.pos {
				s, ok := p.(*Scalar)
				if !ok {
					return nil, a.errorf("arguments must be scalars")
				}
				cells = append(cells, s.Cell)
			}
		}
		if len(cells) == 0 {
			return nil, a.errorf("arg is an empty sequence")
		}
		c, err := extreme(a.name, cells)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		return cellValue(c), nil

	case "sum":
		vals, ok := valuesOf(x)
		if !ok {
			return nil, a.errorf("argument is not iterable")
		}
		c, err := aggregate("sum", vals)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		return cellValue(c), nil

	case "float", "int":
		s, ok := x.(*Scalar)
		if !ok {
			return nil, a.errorf("argument must be a scalar, not %s", x.typeName())
		}
		if s.Cell.IsNull() {
			if a.name == "int" {
				return nil, a.errorf("cannot convert float NaN to integer")
			}
			return null(), nil
		}
		v, ok := s.Cell.Float()
		if !ok {
			return nil, a.errorf("could not convert %s", cellRepr(s.Cell))
		}
		if a.name == "int" {
			v = math.Trunc(v)
		}
		return num(v), nil

	case "str":
		if s, ok := x.(*Scalar); ok {
			if s.Cell.IsNull() {
				return str("nan"), nil
			}
			return str(s.Cell.Text()), nil
		}
		return str(Format(x)), nil

	case "bool":
		b, err := truthValue(a.node, x)
		if err != nil {
			return nil, err
		}
		return boolean(b), nil

	case "list":
		switch v := x.(type) {
		case nil:
			return &List{}, nil
		case *Table:
			return strList(v.Frame.Columns()), nil
		case *Series:
			return cellList(v.Cells), nil
		case *List:
			return &List{Items: v.Items}, nil
		case *Scalar:
			if v.Cell.Kind == frame.KindString {
				var items []Value
				for _, r := range v.Cell.Str {
					items = append(items, str(string(r)))
				}
				return &List{Items: items}, nil
			}
		}
		return nil, a.errorf("argument is not iterable")

	case "sorted":
		vals, ok := valuesOf(x)
		if !ok {
			return nil, a.errorf("argument is not iterable")
		}
		reverse, err := a.boolArg(-1, "reverse", false)
		if err != nil {
			return nil, err
		}
		order := sortPositions(len(vals), [][]frame.Cell{vals}, []bool{!reverse})
		return cellList(takeCells(vals, order)), nil
	}
	return nil, a.errorf("unsupported builtin")
}

var moduleFuncs = map[string]map[string]bool{
	"pd": setOf("to_datetime", "to_numeric", "isna", "isnull", "notna", "notnull"),
	"np": setOf("mean", "sum", "max", "min", "median", "std", "abs", "sqrt", "log", "exp", "round", "isnan", "percentile"),
}

func moduleFunc(a *callArgs, m *module) (Value, error) {
	x := a.arg(0, "")
	if x == nil {
		return nil, a.errorf("expected an argument")
	}
	switch a.name {
	case "to_datetime":
		// dates are kept as ISO-8601 text, which already orders correctly
		return mapCells(a.node, x, func(c frame.Cell) (frame.Cell, error) {
			if c.IsNull() {
				return c, nil
			}
			if _, ok := parseDate(c); !ok {
				return c, fmt.Errorf("cannot parse %q as a date", c.Text())
			}
			return c, nil
		})
	case "to_numeric":
		coerce, err := a.stringArg(-1, "errors", "raise")
		if err != nil {
			return nil, err
		}
		return mapCells(a.node, x, func(c frame.Cell) (frame.Cell, error) {
			if c.Kind != frame.KindString {
				return c, nil
			}
			v, ok := c.Float()
			if !ok {
				if coerce == "coerce" {
					return frame.Null(), nil
				}
				return c, fmt.Errorf("unable to parse string %q", c.Str)
			}
			return frame.Num(v), nil
		})
	case "isna", "isnull", "notna", "notnull", "isnan":
		want := a.name == "isna" || a.name == "isnull" || a.name == "isnan"
		return mapCells(a.node, x, func(c frame.Cell) (frame.Cell, error) {
			return frame.Bool(c.IsNull() == want), nil
		})
	case "mean", "sum", "max", "min", "median":
		vals, ok := valuesOf(x)
		if !ok {
			return nil, a.errorf("argument is not array-like")
		}
		c, err := aggregate(a.name, vals)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		return cellValue(c), nil
	case "std":
		vals, ok := valuesOf(x)
		if !ok {
			return nil, a.errorf("argument is not array-like")
		}
		xs, err := numbers(vals)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		ddof, err := a.intArg(-1, "ddof", 0)
		if err != nil {
			return nil, err
		}
		return num(math.Sqrt(variance(xs, ddof))), nil
	case "percentile":
		vals, ok := valuesOf(x)
		if !ok {
			return nil, a.errorf("argument is not array-like")
		}
		xs, err := numbers(vals)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		q, err := a.floatArg(1, "q", 50)
		if err != nil {
			return nil, err
		}
		sort.Float64s(xs)
		return num(quantile(xs, q/100)), nil
	case "abs":
		return mapCells(a.node, x, absCell)
	case "round":
		d, err := a.intArg(1, "decimals", 0)
		if err != nil {
			return nil, err
		}
		return mapCells(a.node, x, roundCell(d))
	case "sqrt", "log", "exp":
		fn := map[string]func(float64) float64{"sqrt": math.Sqrt, "log": math.Log, "exp": math.Exp}[a.name]
		return mapCells(a.node, x, func(c frame.Cell) (frame.Cell, error) {
			if c.IsNull() {
				return c, nil
			}
			v, ok := c.Float()
			if !ok || c.Kind == frame.KindString {
				return c, fmt.Errorf("%s.%s: could not convert %q", m.name, a.name, c.Text())
			}
			return frame.Num(fn(v)), nil
		})
	}
	return nil, a.errorf("unsupported %s function", m.name)
}
