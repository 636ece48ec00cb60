package dfquery

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/seenimoa/stockagent/internal/frame"
)

// ════════════════════════════════════════════════════════════════════
// Evaluator
// ════════════════════════════════════════════════════════════════════

// Evaluator evaluates expressions against a single table bound to df.
type Evaluator struct {
	df *Table
}

// NewEvaluator creates an evaluator over f.
func NewEvaluator(f *frame.Frame) *Evaluator {
	return &Evaluator{df: NewTable(f)}
}

// Eval parses and evaluates one expression.
func (ev *Evaluator) Eval(expr string) (Value, error) {
	node, err := ParseExpr(expr)
	if err != nil {
		return nil, err
	}
	return ev.EvalNode(node)
}

// EvalNode evaluates a parsed expression. The result is always a *Scalar,
// *Series, *Table or *List.
func (ev *Evaluator) EvalNode(node Node) (Value, error) {
	v, err := ev.eval(node)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case *Scalar, *Series, *Table, *List:
		return v, nil
	case *boundMethod:
		return nil, evalErrorf(node, "%s is a method; call it with ()", x.name)
	default:
		return nil, evalErrorf(node, "expression evaluates to a %s, not a value", v.typeName())
	}
}

// Evaluate parses and evaluates expr against f and formats the result.
func Evaluate(f *frame.Frame, expr string) (string, error) {
	v, err := NewEvaluator(f).Eval(expr)
	if err != nil {
		return "", err
	}
	return Format(v), nil
}

func (ev *Evaluator) eval(node Node) (Value, error) {
	switch n := node.(type) {
	case *NumberLit:
		return num(n.Value), nil
	case *StringLit:
		return str(n.Value), nil
	case *BoolLit:
		return boolean(n.Value), nil
	case *NoneLit:
		return null(), nil
	case *Name:
		return ev.lookup(n)
	case *ListLit:
		items := make([]Value, len(n.Elems))
		for i, e := range n.Elems {
			v, err := ev.eval(e)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return &List{Items: items, Tuple: n.Tuple}, nil
	case *UnaryExpr:
		return ev.unary(n)
	case *BinaryExpr:
		return ev.binary(n)
	case *AttrExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		return ev.attr(n, obj, n.Attr)
	case *CallExpr:
		return ev.call(n)
	case *IndexExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		idx, err := ev.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return ev.index(n, obj, idx)
	case *SliceExpr:
		return ev.slice(n)
	}
	return nil, evalErrorf(node, "unsupported expression")
}

var builtinNames = map[string]bool{
	"len": true, "abs": true, "round": true, "min": true, "max": true,
	"float": true, "int": true, "str": true, "bool": true, "list": true,
	"sum": true, "sorted": true,
}

func (ev *Evaluator) lookup(n *Name) (Value, error) {
	switch n.Ident {
	case "df":
		return ev.df, nil
	case "pd", "pandas":
		return &module{name: "pd"}, nil
	case "np", "numpy":
		return &module{name: "np"}, nil
	}
	if builtinNames[n.Ident] {
		return &builtinFunc{name: n.Ident}, nil
	}
	return nil, evalErrorf(n, "name %q is not defined; only df, pd and np are available", n.Ident)
}

func (ev *Evaluator) slice(n *SliceExpr) (Value, error) {
	out := &sliceValue{}
	parts := []struct {
		node Node
		dst  **Scalar
	}{{n.Start, &out.start}, {n.Stop, &out.stop}, {n.Step, &out.step}}
	for _, p := range parts {
		if p.node == nil {
			continue
		}
		v, err := ev.eval(p.node)
		if err != nil {
			return nil, err
		}
		s, ok := v.(*Scalar)
		if !ok {
			return nil, evalErrorf(p.node, "slice bounds must be scalars, got %s", v.typeName())
		}
		if !s.Cell.IsNull() {
			*p.dst = s
		}
	}
	return out, nil
}

// ════════════════════════════════════════════════════════════════════
// Operators
// ════════════════════════════════════════════════════════════════════

func (ev *Evaluator) unary(n *UnaryExpr) (Value, error) {
	v, err := ev.eval(n.Operand)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case TokenNOT:
		b, err := truthValue(n, v)
		if err != nil {
			return nil, err
		}
		return boolean(!b), nil
	case TokenMinus:
		return mapCells(n, v, func(c frame.Cell) (frame.Cell, error) {
			if c.IsNull() {
				return c, nil
			}
			if c.Kind == frame.KindString {
				return c, fmt.Errorf("bad operand type for unary -: 'str'")
			}
			x, _ := c.Float()
			return frame.Num(-x), nil
		})
	case TokenTilde:
		return mapCells(n, v, func(c frame.Cell) (frame.Cell, error) {
			switch c.Kind {
			case frame.KindBool:
				return frame.Bool(!c.Bool), nil
			case frame.KindNumber:
				return frame.Num(float64(^int64(c.Num))), nil
			case frame.KindNull:
				return frame.Bool(true), nil
			}
			return c, fmt.Errorf("bad operand type for unary ~: 'str'")
		})
	}
	return nil, evalErrorf(n, "unsupported unary operator %s", n.Op)
}

// mapCells applies fn to a scalar, every element of a series, or every cell
// of a table.
func mapCells(n Node, v Value, fn func(frame.Cell) (frame.Cell, error)) (Value, error) {
	switch x := v.(type) {
	case *Scalar:
		c, err := fn(x.Cell)
		if err != nil {
			return nil, evalErrorf(n, "%v", err)
		}
		return cellValue(c), nil
	case *Series:
		out := make([]frame.Cell, len(x.Cells))
		for i, c := range x.Cells {
			r, err := fn(c)
			if err != nil {
				return nil, evalErrorf(n, "%v", err)
			}
			out[i] = r
		}
		return x.withCells(out), nil
	case *Table:
		out := frame.New()
		for _, name := range x.Frame.Columns() {
			col, _ := x.Frame.Column(name)
			cells := make([]frame.Cell, len(col))
			for i, c := range col {
				r, err := fn(c)
				if err != nil {
					return nil, evalErrorf(n, "column %q: %v", name, err)
				}
				cells[i] = r
			}
			if err := out.AddColumn(name, cells); err != nil {
				return nil, evalErrorf(n, "%v", err)
			}
		}
		return &Table{Frame: out, Index: x.Index}, nil
	}
	return nil, evalErrorf(n, "unsupported operand type %s", v.typeName())
}

// truthValue is Python's bool() of a value.
func truthValue(n Node, v Value) (bool, error) {
	switch x := v.(type) {
	case *Scalar:
		return truthy(x.Cell), nil
	case *List:
		return len(x.Items) > 0, nil
	case *Series, *Table:
		return false, evalErrorf(n, "the truth value of a %s is ambiguous; use & or | for element-wise logic, or .any() / .all()", v.typeName())
	}
	return true, nil
}

func (ev *Evaluator) binary(n *BinaryExpr) (Value, error) {
	left, err := ev.eval(n.Left)
	if err != nil {
		return nil, err
	}

	if n.Op == TokenAND || n.Op == TokenOR {
		b, err := truthValue(n, left)
		if err != nil {
			return nil, err
		}
		if (n.Op == TokenAND && !b) || (n.Op == TokenOR && b) {
			return left, nil
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		if _, err := truthValue(n, right); err != nil {
			return nil, err
		}
		return right, nil
	}

	right, err := ev.eval(n.Right)
	if err != nil {
		return nil, err
	}
	if n.Op == TokenIN {
		found, err := contains(n, right, left)
		if err != nil {
			return nil, err
		}
		return boolean(found != n.Negate), nil
	}
	return arith(n, n.Op, left, right)
}

// contains implements "item in container". A series is searched by label
// and a table by column name, as in pandas.
func contains(n Node, container, item Value) (bool, error) {
	s, isScalar := item.(*Scalar)
	switch c := container.(type) {
	case *List:
		for _, it := range c.Items {
			if o, ok := it.(*Scalar); ok && isScalar && o.Cell.Equal(s.Cell) {
				return true, nil
			}
		}
		return false, nil
	case *Series:
		if !isScalar {
			break
		}
		_, ok := labelPos(c.Index, s.Cell)
		return ok, nil
	case *Table:
		if !isScalar {
			break
		}
		return c.Frame.Has(s.Cell.Text()), nil
	case *Scalar:
		if isScalar && c.Cell.Kind == frame.KindString && s.Cell.Kind == frame.KindString {
			return strings.Contains(c.Cell.Str, s.Cell.Str), nil
		}
	}
	return false, evalErrorf(n, "'in' is not supported between %s and %s", item.typeName(), container.typeName())
}

// arith applies a binary operator element-wise, broadcasting scalars.
func arith(n Node, op TokenType, left, right Value) (Value, error) {
	wrap := func(err error) error { return evalErrorf(n, "%v", err) }

	switch l := left.(type) {
	case *Scalar:
		switch r := right.(type) {
		case *Scalar:
			if isDivision(op) {
				if y, ok := r.Cell.Float(); ok && y == 0 && r.Cell.Kind != frame.KindString && !l.Cell.IsNull() {
					return nil, evalErrorf(n, "division by zero")
				}
			}
			c, err := cellOp(op, l.Cell, r.Cell)
			if err != nil {
				return nil, wrap(err)
			}
			return cellValue(c), nil
		case *Series, *Table:
			return mapCells(n, right, func(c frame.Cell) (frame.Cell, error) { return cellOp(op, l.Cell, c) })
		}
	case *Series:
		switch r := right.(type) {
		case *Scalar:
			return mapCells(n, left, func(c frame.Cell) (frame.Cell, error) { return cellOp(op, c, r.Cell) })
		case *Series:
			if l.Len() != r.Len() {
				return nil, evalErrorf(n, "cannot combine series of length %d and %d", l.Len(), r.Len())
			}
			out := make([]frame.Cell, l.Len())
			for i := range out {
				c, err := cellOp(op, l.Cells[i], r.Cells[i])
				if err != nil {
					return nil, wrap(err)
				}
				out[i] = c
			}
			name := l.Name
			if l.Name != r.Name {
				name = ""
			}
			return &Series{Name: name, Index: l.Index, Cells: out}, nil
		}
	case *Table:
		if r, ok := right.(*Scalar); ok {
			return mapCells(n, left, func(c frame.Cell) (frame.Cell, error) { return cellOp(op, c, r.Cell) })
		}
	case *List:
		if r, ok := right.(*List); ok && op == TokenPlus {
			items := append(append([]Value{}, l.Items...), r.Items...)
			return &List{Items: items, Tuple: l.Tuple}, nil
		}
	}
	return nil, evalErrorf(n, "unsupported operand types for %s: %s and %s", op, left.typeName(), right.typeName())
}

func isDivision(op TokenType) bool {
	return op == TokenSlash || op == TokenDoubleSlash || op == TokenPercent
}

// ════════════════════════════════════════════════════════════════════
// Attributes
// ════════════════════════════════════════════════════════════════════

func (ev *Evaluator) attr(n *AttrExpr, obj Value, name string) (Value, error) {
	switch o := obj.(type) {
	case *module:
		return moduleAttr(n, o, name)
	case *Table:
		return tableAttr(n, o, name)
	case *Series:
		return seriesAttr(n, o, name)
	case *accessor:
		switch o.kind {
		case "dt":
			return dtAttr(n, o.recv.(*Series), name)
		case "str":
			if strMethods[name] {
				return &boundMethod{recv: o, name: name}, nil
			}
		}
	case *groupBy:
		if groupMethods[name] {
			return &boundMethod{recv: o, name: name}, nil
		}
		if o.table.Frame.Has(name) {
			return &groupBy{table: o.table, key: o.key, cols: []string{name}, one: true}, nil
		}
	case *rolling:
		if rollingMethods[name] {
			return &boundMethod{recv: o, name: name}, nil
		}
	case *ewm:
		if ewmMethods[name] {
			return &boundMethod{recv: o, name: name}, nil
		}
	case *List:
		if name == "tolist" || name == "to_list" || name == "index" || name == "count" {
			return &boundMethod{recv: o, name: name}, nil
		}
	case *Scalar:
		if name == "round" || name == "item" || name == "is_integer" {
			return &boundMethod{recv: o, name: name}, nil
		}
		if o.Cell.Kind == frame.KindString && strMethods[name] {
			return &boundMethod{recv: o, name: name}, nil
		}
	}
	return nil, evalErrorf(n, "'%s' object has no attribute %q", obj.typeName(), name)
}

func moduleAttr(n Node, m *module, name string) (Value, error) {
	switch name {
	case "nan", "NaN", "NA", "NaT":
		return null(), nil
	case "inf":
		return num(math.Inf(1)), nil
	case "pi":
		return num(math.Pi), nil
	}
	if moduleFuncs[m.name][name] {
		return &boundMethod{recv: m, name: name}, nil
	}
	return nil, evalErrorf(n, "%s.%s is not supported", m.name, name)
}

func tableAttr(n Node, t *Table, name string) (Value, error) {
	switch name {
	case "iloc", "loc":
		return &accessor{recv: t, kind: name}, nil
	case "shape":
		return &List{Items: []Value{num(float64(t.Len())), num(float64(t.Frame.Width()))}, Tuple: true}, nil
	case "columns":
		return strList(t.Frame.Columns()), nil
	case "index":
		return cellList(t.Index), nil
	case "size":
		return num(float64(t.Len() * t.Frame.Width())), nil
	case "ndim":
		return num(2), nil
	case "empty":
		return boolean(t.Frame.Empty()), nil
	case "dtypes":
		cols := t.Frame.Columns()
		types := make([]frame.Cell, len(cols))
		for i, c := range cols {
			cells, _ := t.Frame.Column(c)
			types[i] = frame.Str(dtype(cells))
		}
		return &Series{Index: strCells(cols), Cells: types}, nil
	}
	if tableMethods[name] {
		return &boundMethod{recv: t, name: name}, nil
	}
	if s, ok := t.column(name); ok {
		return s, nil
	}
	return nil, evalErrorf(n, "'DataFrame' object has no attribute %q; columns are %s", name, strings.Join(t.Frame.Columns(), ", "))
}

func seriesAttr(n Node, s *Series, name string) (Value, error) {
	switch name {
	case "iloc", "loc", "str", "dt":
		return &accessor{recv: s, kind: name}, nil
	case "values", "array":
		return cellList(s.Cells), nil
	case "index":
		return cellList(s.Index), nil
	case "name":
		return str(s.Name), nil
	case "size":
		return num(float64(s.Len())), nil
	case "shape":
		return &List{Items: []Value{num(float64(s.Len()))}, Tuple: true}, nil
	case "empty":
		return boolean(s.Len() == 0), nil
	case "dtype":
		return str(dtype(s.Cells)), nil
	case "hasnans":
		return boolean(slices.ContainsFunc(s.Cells, frame.Cell.IsNull)), nil
	case "is_monotonic_increasing", "is_monotonic_decreasing":
		return boolean(monotonic(s.Cells, name == "is_monotonic_increasing")), nil
	}
	if seriesMethods[name] {
		return &boundMethod{recv: s, name: name}, nil
	}
	return nil, evalErrorf(n, "'Series' object has no attribute %q", name)
}

func monotonic(cells []frame.Cell, increasing bool) bool {
	for i := 1; i < len(cells); i++ {
		a, b := cells[i-1], cells[i]
		if a.IsNull() || b.IsNull() {
			return false
		}
		if increasing && b.Less(a) || !increasing && a.Less(b) {
			return false
		}
	}
	return true
}

func strList(ss []string) *List {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = str(s)
	}
	return &List{Items: items}
}

func strCells(ss []string) []frame.Cell {
	out := make([]frame.Cell, len(ss))
	for i, s := range ss {
		out[i] = frame.Str(s)
	}
	return out
}

func cellList(cells []frame.Cell) *List {
	items := make([]Value, len(cells))
	for i, c := range cells {
		items[i] = cellValue(c)
	}
	return &List{Items: items}
}

// ════════════════════════════════════════════════════════════════════
// Subscripts
// ════════════════════════════════════════════════════════════════════

func (ev *Evaluator) index(n *IndexExpr, obj, idx Value) (Value, error) {
	switch o := obj.(type) {
	case *Table:
		return tableIndex(n, o, idx)
	case *Series:
		return seriesIndex(n, o, idx)
	case *accessor:
		switch o.kind {
		case "iloc":
			return iloc(n, o.recv, idx)
		case "loc":
			return loc(n, o.recv, idx)
		}
	case *groupBy:
		switch k := idx.(type) {
		case *Scalar:
			col := k.Cell.Text()
			if !o.table.Frame.Has(col) {
				return nil, evalErrorf(n, "column %q not found", col)
			}
			return &groupBy{table: o.table, key: o.key, cols: []string{col}, one: true}, nil
		case *List:
			cols, err := stringItems(n, k)
			if err != nil {
				return nil, err
			}
			for _, c := range cols {
				if !o.table.Frame.Has(c) {
					return nil, evalErrorf(n, "column %q not found", c)
				}
			}
			return &groupBy{table: o.table, key: o.key, cols: cols}, nil
		}
	case *List:
		return listIndex(n, o, idx)
	case *Scalar:
		if o.Cell.Kind == frame.KindString {
			return stringIndex(n, o.Cell.Str, idx)
		}
	}
	return nil, evalErrorf(n, "'%s' object is not subscriptable with %s", obj.typeName(), idx.typeName())
}

func tableIndex(n Node, t *Table, idx Value) (Value, error) {
	switch k := idx.(type) {
	case *Scalar:
		name := k.Cell.Text()
		if s, ok := t.column(name); ok {
			return s, nil
		}
		return nil, evalErrorf(n, "column %q not found; columns are %s", name, strings.Join(t.Frame.Columns(), ", "))
	case *List:
		if allBool(k.Items) {
			mask := make([]frame.Cell, len(k.Items))
			for i, it := range k.Items {
				mask[i] = it.(*Scalar).Cell
			}
			return maskTable(n, t, mask)
		}
		cols, err := stringItems(n, k)
		if err != nil {
			return nil, err
		}
		sel, err := t.Frame.Select(cols...)
		if err != nil {
			return nil, evalErrorf(n, "%v", err)
		}
		return &Table{Frame: sel, Index: t.Index}, nil
	case *Series:
		return maskTable(n, t, k.Cells)
	case *sliceValue:
		pos, err := slicePositions(n, k, t.Len())
		if err != nil {
			return nil, err
		}
		return t.take(pos), nil
	}
	return nil, evalErrorf(n, "cannot index a DataFrame with %s", idx.typeName())
}

func maskTable(n Node, t *Table, mask []frame.Cell) (Value, error) {
	pos, err := maskPositions(n, mask, t.Len())
	if err != nil {
		return nil, err
	}
	return t.take(pos), nil
}

func maskPositions(n Node, mask []frame.Cell, length int) ([]int, error) {
	if len(mask) != length {
		return nil, evalErrorf(n, "boolean mask has length %d, expected %d", len(mask), length)
	}
	var pos []int
	for i, c := range mask {
		if c.Kind != frame.KindBool && !c.IsNull() {
			return nil, evalErrorf(n, "mask must be boolean, got %s", kindName(c))
		}
		if truthy(c) {
			pos = append(pos, i)
		}
	}
	return pos, nil
}

func seriesIndex(n Node, s *Series, idx Value) (Value, error) {
	switch k := idx.(type) {
	case *Series:
		pos, err := maskPositions(n, k.Cells, s.Len())
		if err != nil {
			return nil, err
		}
		return s.take(pos), nil
	case *sliceValue:
		pos, err := slicePositions(n, k, s.Len())
		if err != nil {
			return nil, err
		}
		return s.take(pos), nil
	case *Scalar:
		if i, ok := labelPos(s.Index, k.Cell); ok {
			return cellValue(s.Cells[i]), nil
		}
		// Positional fallback when the labels are not numbers.
		if !isNumericCells(s.Index) {
			if i, ok := intOf(k.Cell); ok {
				p, err := position(n, i, s.Len())
				if err != nil {
					return nil, err
				}
				return cellValue(s.Cells[p]), nil
			}
		}
		return nil, evalErrorf(n, "label %s not found in index", cellRepr(k.Cell))
	case *List:
		var pos []int
		for _, it := range k.Items {
			sc, ok := it.(*Scalar)
			if !ok {
				return nil, evalErrorf(n, "labels must be scalars")
			}
			i, ok := labelPos(s.Index, sc.Cell)
			if !ok {
				return nil, evalErrorf(n, "label %s not found in index", cellRepr(sc.Cell))
			}
			pos = append(pos, i)
		}
		return s.take(pos), nil
	}
	return nil, evalErrorf(n, "cannot index a Series with %s", idx.typeName())
}

func listIndex(n Node, l *List, idx Value) (Value, error) {
	switch k := idx.(type) {
	case *Scalar:
		i, ok := intOf(k.Cell)
		if !ok {
			return nil, evalErrorf(n, "list indices must be integers")
		}
		p, err := position(n, i, len(l.Items))
		if err != nil {
			return nil, err
		}
		return l.Items[p], nil
	case *sliceValue:
		pos, err := slicePositions(n, k, len(l.Items))
		if err != nil {
			return nil, err
		}
		items := make([]Value, len(pos))
		for j, p := range pos {
			items[j] = l.Items[p]
		}
		return &List{Items: items, Tuple: l.Tuple}, nil
	}
	return nil, evalErrorf(n, "list indices must be integers or slices")
}

func stringIndex(n Node, s string, idx Value) (Value, error) {
	r := []rune(s)
	switch k := idx.(type) {
	case *Scalar:
		i, ok := intOf(k.Cell)
		if !ok {
			return nil, evalErrorf(n, "string indices must be integers")
		}
		p, err := position(n, i, len(r))
		if err != nil {
			return nil, err
		}
		return str(string(r[p])), nil
	case *sliceValue:
		pos, err := slicePositions(n, k, len(r))
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, p := range pos {
			b.WriteRune(r[p])
		}
		return str(b.String()), nil
	}
	return nil, evalErrorf(n, "string indices must be integers or slices")
}

// ── Positional helpers ──

func intOf(c frame.Cell) (int, bool) {
	if c.Kind != frame.KindNumber && c.Kind != frame.KindBool {
		return 0, false
	}
	v, _ := c.Float()
	if v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

// position resolves a possibly negative index into [0, length).
func position(n Node, i, length int) (int, error) {
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, evalErrorf(n, "single positional indexer is out-of-bounds")
	}
	return i, nil
}

// slicePositions resolves a positional slice with Python semantics.
func slicePositions(n Node, s *sliceValue, length int) ([]int, error) {
	bound := func(v *Scalar, def int) (int, error) {
		if v == nil {
			return def, nil
		}
		i, ok := intOf(v.Cell)
		if !ok {
			return 0, evalErrorf(n, "slice indices must be integers, got %s", cellRepr(v.Cell))
		}
		return i, nil
	}
	step, err := bound(s.step, 1)
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, evalErrorf(n, "slice step cannot be zero")
	}
	defStart, defStop := 0, length
	if step < 0 {
		defStart, defStop = length-1, -length-1
	}
	start, err := bound(s.start, defStart)
	if err != nil {
		return nil, err
	}
	stop, err := bound(s.stop, defStop)
	if err != nil {
		return nil, err
	}
	norm := func(i int) int {
		if i < 0 {
			i += length
		}
		if step > 0 {
			return min(max(i, 0), length)
		}
		return min(max(i, -1), length-1)
	}
	start, stop = norm(start), norm(stop)

	pos := []int{}
	if step > 0 {
		for i := start; i < stop; i += step {
			pos = append(pos, i)
		}
	} else {
		for i := start; i > stop; i += step {
			pos = append(pos, i)
		}
	}
	return pos, nil
}

// rowSpec is a resolved row or column selector.
type rowSpec struct {
	pos    []int
	single bool
}

// ilocSpec resolves a positional selector against length elements.
func ilocSpec(n Node, v Value, length int) (rowSpec, error) {
	switch k := v.(type) {
	case *Scalar:
		i, ok := intOf(k.Cell)
		if !ok {
			return rowSpec{}, evalErrorf(n, "iloc requires integer positions, got %s", cellRepr(k.Cell))
		}
		p, err := position(n, i, length)
		if err != nil {
			return rowSpec{}, err
		}
		return rowSpec{pos: []int{p}, single: true}, nil
	case *sliceValue:
		pos, err := slicePositions(n, k, length)
		return rowSpec{pos: pos}, err
	case *List:
		if allBool(k.Items) {
			pos, err := maskPositions(n, listCells(k), length)
			return rowSpec{pos: pos}, err
		}
		var pos []int
		for _, it := range k.Items {
			sc, ok := it.(*Scalar)
			if !ok {
				return rowSpec{}, evalErrorf(n, "iloc positions must be integers")
			}
			i, ok := intOf(sc.Cell)
			if !ok {
				return rowSpec{}, evalErrorf(n, "iloc positions must be integers")
			}
			p, err := position(n, i, length)
			if err != nil {
				return rowSpec{}, err
			}
			pos = append(pos, p)
		}
		return rowSpec{pos: pos}, nil
	case *Series:
		pos, err := maskPositions(n, k.Cells, length)
		return rowSpec{pos: pos}, err
	}
	return rowSpec{}, evalErrorf(n, "cannot use %s as a positional indexer", v.typeName())
}

// locSpec resolves a label selector against index.
func locSpec(n Node, v Value, index []frame.Cell) (rowSpec, error) {
	switch k := v.(type) {
	case *Scalar:
		var pos []int
		for i, l := range index {
			if l.Equal(k.Cell) {
				pos = append(pos, i)
			}
		}
		if len(pos) == 0 {
			return rowSpec{}, evalErrorf(n, "label %s not found", cellRepr(k.Cell))
		}
		return rowSpec{pos: pos, single: len(pos) == 1}, nil
	case *sliceValue:
		start, stop := 0, len(index)-1
		if k.start != nil {
			i, ok := labelPos(index, k.start.Cell)
			if !ok {
				return rowSpec{}, evalErrorf(n, "label %s not found", cellRepr(k.start.Cell))
			}
			start = i
		}
		if k.stop != nil {
			i, ok := labelPos(index, k.stop.Cell)
			if !ok {
				return rowSpec{}, evalErrorf(n, "label %s not found", cellRepr(k.stop.Cell))
			}
			stop = i
		}
		var pos []int
		for i := start; i <= stop; i++ {
			pos = append(pos, i)
		}
		return rowSpec{pos: pos}, nil
	case *List:
		if allBool(k.Items) {
			pos, err := maskPositions(n, listCells(k), len(index))
			return rowSpec{pos: pos}, err
		}
		var pos []int
		for _, it := range k.Items {
			sc, ok := it.(*Scalar)
			if !ok {
				return rowSpec{}, evalErrorf(n, "labels must be scalars")
			}
			i, ok := labelPos(index, sc.Cell)
			if !ok {
				return rowSpec{}, evalErrorf(n, "label %s not found", cellRepr(sc.Cell))
			}
			pos = append(pos, i)
		}
		return rowSpec{pos: pos}, nil
	case *Series:
		pos, err := maskPositions(n, k.Cells, len(index))
		return rowSpec{pos: pos}, err
	}
	return rowSpec{}, evalErrorf(n, "cannot use %s as a label indexer", v.typeName())
}

func splitTuple(idx Value) (rows Value, cols Value, err error) {
	if l, ok := idx.(*List); ok && l.Tuple {
		switch len(l.Items) {
		case 1:
			return l.Items[0], nil, nil
		case 2:
			return l.Items[0], l.Items[1], nil
		default:
			return nil, nil, fmt.Errorf("too many indexers")
		}
	}
	return idx, nil, nil
}

func iloc(n Node, recv, idx Value) (Value, error) {
	rowsV, colsV, err := splitTuple(idx)
	if err != nil {
		return nil, evalErrorf(n, "%v", err)
	}
	switch r := recv.(type) {
	case *Series:
		if colsV != nil {
			return nil, evalErrorf(n, "too many indexers for a Series")
		}
		spec, err := ilocSpec(n, rowsV, r.Len())
		if err != nil {
			return nil, err
		}
		if spec.single {
			return cellValue(r.Cells[spec.pos[0]]), nil
		}
		return r.take(spec.pos), nil
	case *Table:
		rows, err := ilocSpec(n, rowsV, r.Len())
		if err != nil {
			return nil, err
		}
		cols := rowSpec{pos: span(r.Frame.Width())}
		if colsV != nil {
			if cols, err = ilocSpec(n, colsV, r.Frame.Width()); err != nil {
				return nil, err
			}
		}
		names := r.Frame.Columns()
		sel := make([]string, len(cols.pos))
		for i, p := range cols.pos {
			sel[i] = names[p]
		}
		return selectCells(n, r, rows, sel, cols.single)
	}
	return nil, evalErrorf(n, "iloc is not supported on %s", recv.typeName())
}

func loc(n Node, recv, idx Value) (Value, error) {
	rowsV, colsV, err := splitTuple(idx)
	if err != nil {
		return nil, evalErrorf(n, "%v", err)
	}
	switch r := recv.(type) {
	case *Series:
		if colsV != nil {
			return nil, evalErrorf(n, "too many indexers for a Series")
		}
		spec, err := locSpec(n, rowsV, r.Index)
		if err != nil {
			return nil, err
		}
		if spec.single {
			return cellValue(r.Cells[spec.pos[0]]), nil
		}
		return r.take(spec.pos), nil
	case *Table:
		rows, err := locSpec(n, rowsV, r.Index)
		if err != nil {
			return nil, err
		}
		names := r.Frame.Columns()
		sel, single := names, false
		if colsV != nil {
			cols, err := locSpec(n, colsV, strCells(names))
			if err != nil {
				return nil, err
			}
			sel = make([]string, len(cols.pos))
			for i, p := range cols.pos {
				sel[i] = names[p]
			}
			single = cols.single
		}
		return selectCells(n, r, rows, sel, single)
	}
	return nil, evalErrorf(n, "loc is not supported on %s", recv.typeName())
}

// selectCells narrows a table to the given rows and columns, collapsing
// single selections into a series or scalar.
func selectCells(n Node, t *Table, rows rowSpec, cols []string, singleCol bool) (Value, error) {
	sub := t.take(rows.pos)
	narrowed, err := sub.Frame.Select(cols...)
	if err != nil {
		return nil, evalErrorf(n, "%v", err)
	}
	sub = &Table{Frame: narrowed, Index: sub.Index}
	switch {
	case rows.single && singleCol:
		return cellValue(sub.Frame.At(0, cols[0])), nil
	case rows.single:
		return sub.row(0), nil
	case singleCol:
		s, _ := sub.column(cols[0])
		return s, nil
	}
	return sub, nil
}

func allBool(items []Value) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		s, ok := it.(*Scalar)
		if !ok || s.Cell.Kind != frame.KindBool {
			return false
		}
	}
	return true
}

func listCells(l *List) []frame.Cell {
	out := make([]frame.Cell, len(l.Items))
	for i, it := range l.Items {
		if s, ok := it.(*Scalar); ok {
			out[i] = s.Cell
		}
	}
	return out
}

func stringItems(n Node, l *List) ([]string, error) {
	out := make([]string, len(l.Items))
	for i, it := range l.Items {
		s, ok := it.(*Scalar)
		if !ok || s.Cell.Kind != frame.KindString {
			return nil, evalErrorf(n, "expected a list of column names")
		}
		out[i] = s.Cell.Str
	}
	return out, nil
}

func span(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
