package dfquery

import (
	"fmt"
	"math"
	"strings"

	"github.com/seenimoa/stockagent/internal/frame"
)

// ════════════════════════════════════════════════════════════════════
// Value Types
// ════════════════════════════════════════════════════════════════════

// Value is the result of evaluating an expression: a *Scalar, *Series,
// *Table or *List. Intermediate values such as bound methods and
// accessors also implement it but never escape Eval.
type Value interface {
	typeName() string
}

// Scalar is a single cell.
type Scalar struct {
	Cell frame.Cell
}

// Series is a named column with row labels.
type Series struct {
	Name  string
	Index []frame.Cell
	Cells []frame.Cell
}

// Table is a frame with row labels.
type Table struct {
	Frame *frame.Frame
	Index []frame.Cell
}

// List is a list or tuple of values.
type List struct {
	Items []Value
	Tuple bool
}

func (*Scalar) typeName() string { return "scalar" }
func (*Series) typeName() string { return "Series" }
func (*Table) typeName() string  { return "DataFrame" }
func (l *List) typeName() string {
	if l.Tuple {
		return "tuple"
	}
	return "list"
}

// Len returns the number of rows.
func (s *Series) Len() int { return len(s.Cells) }

// Len returns the number of rows.
func (t *Table) Len() int { return t.Frame.Len() }

// ── Intermediate values ──

// sliceValue is an evaluated start:stop:step. Absent parts are nil.
type sliceValue struct {
	start, stop, step *Scalar
}

// boundMethod is recv.name awaiting a call.
type boundMethod struct {
	recv Value
	name string
}

// accessor is one of the indexer or namespace properties: iloc, loc, str, dt.
type accessor struct {
	recv Value
	kind string
}

// builtinFunc is a top-level function such as len.
type builtinFunc struct {
	name string
}

// module is pd or np.
type module struct {
	name string
}

// groupBy is df.groupby(key), optionally narrowed to value columns.
type groupBy struct {
	table *Table
	key   string
	cols  []string
	one   bool // a single column was selected with a string, not a list
}

// rolling is series.rolling(window).
type rolling struct {
	series *Series
	window int
}

// ewm is series.ewm(...): an exponentially weighted window with smoothing
// factor alpha.
type ewm struct {
	series *Series
	alpha  float64
	adjust bool
}

func (*sliceValue) typeName() string    { return "slice" }
func (m *boundMethod) typeName() string { return "method " + m.name }
func (a *accessor) typeName() string    { return a.kind + " accessor" }
func (b *builtinFunc) typeName() string { return "builtin " + b.name }
func (m *module) typeName() string      { return "module " + m.name }
func (*groupBy) typeName() string       { return "DataFrameGroupBy" }
func (*rolling) typeName() string       { return "Rolling" }
func (*ewm) typeName() string           { return "ExponentialMovingWindow" }

// ════════════════════════════════════════════════════════════════════
// Constructors
// ════════════════════════════════════════════════════════════════════

func num(v float64) *Scalar  { return &Scalar{Cell: frame.Num(v)} }
func str(s string) *Scalar   { return &Scalar{Cell: frame.Str(s)} }
func boolean(b bool) *Scalar { return &Scalar{Cell: frame.Bool(b)} }
func null() *Scalar          { return &Scalar{Cell: frame.Null()} }

func cellValue(c frame.Cell) *Scalar { return &Scalar{Cell: c} }

// rangeIndex returns the labels 0..n-1.
func rangeIndex(n int) []frame.Cell {
	out := make([]frame.Cell, n)
	for i := range out {
		out[i] = frame.Num(float64(i))
	}
	return out
}

// NewTable wraps a frame with a default range index.
func NewTable(f *frame.Frame) *Table {
	return &Table{Frame: f, Index: rangeIndex(f.Len())}
}

// column returns the named column as a series sharing the table's index.
func (t *Table) column(name string) (*Series, bool) {
	cells, ok := t.Frame.Column(name)
	if !ok {
		return nil, false
	}
	return &Series{Name: name, Index: t.Index, Cells: cells}, true
}

// take returns the rows at the given positions.
func (t *Table) take(idx []int) *Table {
	return &Table{Frame: t.Frame.Take(idx), Index: takeCells(t.Index, idx)}
}

// take returns the elements at the given positions.
func (s *Series) take(idx []int) *Series {
	return &Series{Name: s.Name, Index: takeCells(s.Index, idx), Cells: takeCells(s.Cells, idx)}
}

// withCells returns a series with the same labels and new values.
func (s *Series) withCells(cells []frame.Cell) *Series {
	return &Series{Name: s.Name, Index: s.Index, Cells: cells}
}

// row returns row i as a series indexed by column name.
func (t *Table) row(i int) *Series {
	cols := t.Frame.Columns()
	idx := make([]frame.Cell, len(cols))
	for j, c := range cols {
		idx[j] = frame.Str(c)
	}
	return &Series{Name: t.Index[i].String(), Index: idx, Cells: t.Frame.Row(i)}
}

// labelPos returns the first position whose label equals label.
func labelPos(index []frame.Cell, label frame.Cell) (int, bool) {
	for i, l := range index {
		if l.Equal(label) {
			return i, true
		}
	}
	return 0, false
}

func takeCells(cells []frame.Cell, idx []int) []frame.Cell {
	out := make([]frame.Cell, len(idx))
	for k, i := range idx {
		out[k] = cells[i]
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Element-wise operators
// ════════════════════════════════════════════════════════════════════

// cellOp applies a binary operator to two cells with pandas semantics:
// arithmetic with a missing value is missing, comparisons with a missing
// value are false except !=.
func cellOp(op TokenType, a, b frame.Cell) (frame.Cell, error) {
	switch op {
	case TokenEQ:
		return frame.Bool(a.Equal(b)), nil
	case TokenNEQ:
		return frame.Bool(!a.Equal(b)), nil
	case TokenAmp, TokenPipe:
		x, y := truthy(a), truthy(b)
		if op == TokenAmp {
			return frame.Bool(x && y), nil
		}
		return frame.Bool(x || y), nil
	}

	if a.IsNull() || b.IsNull() {
		switch op {
		case TokenGT, TokenLT, TokenGTE, TokenLTE:
			return frame.Bool(false), nil
		}
		return frame.Null(), nil
	}

	if a.Kind == frame.KindString || b.Kind == frame.KindString {
		return stringOp(op, a, b)
	}

	x, _ := a.Float()
	y, _ := b.Float()
	switch op {
	case TokenGT:
		return frame.Bool(x > y), nil
	case TokenLT:
		return frame.Bool(x < y), nil
	case TokenGTE:
		return frame.Bool(x >= y), nil
	case TokenLTE:
		return frame.Bool(x <= y), nil
	case TokenPlus:
		return frame.Num(x + y), nil
	case TokenMinus:
		return frame.Num(x - y), nil
	case TokenStar:
		return frame.Num(x * y), nil
	case TokenSlash:
		return frame.Num(x / y), nil
	case TokenDoubleSlash:
		return frame.Num(math.Floor(x / y)), nil
	case TokenPercent:
		if y == 0 {
			return frame.Null(), nil
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return frame.Num(m), nil
	case TokenPower:
		return frame.Num(math.Pow(x, y)), nil
	}
	return frame.Null(), fmt.Errorf("unsupported operator %s", op)
}

func stringOp(op TokenType, a, b frame.Cell) (frame.Cell, error) {
	if a.Kind != frame.KindString || b.Kind != frame.KindString {
		return frame.Null(), fmt.Errorf("unsupported operand types for %s: %s and %s", op, kindName(a), kindName(b))
	}
	switch op {
	case TokenPlus:
		return frame.Str(a.Str + b.Str), nil
	case TokenGT:
		return frame.Bool(a.Str > b.Str), nil
	case TokenLT:
		return frame.Bool(a.Str < b.Str), nil
	case TokenGTE:
		return frame.Bool(a.Str >= b.Str), nil
	case TokenLTE:
		return frame.Bool(a.Str <= b.Str), nil
	}
	return frame.Null(), fmt.Errorf("unsupported operand types for %s: str and str", op)
}

func kindName(c frame.Cell) string {
	switch c.Kind {
	case frame.KindString:
		return "str"
	case frame.KindBool:
		return "bool"
	case frame.KindNull:
		return "NaN"
	}
	return "float"
}

// truthy reports the Python truth value of a cell. Missing is false.
func truthy(c frame.Cell) bool {
	switch c.Kind {
	case frame.KindBool:
		return c.Bool
	case frame.KindNumber:
		return c.Num != 0
	case frame.KindString:
		return c.Str != ""
	}
	return false
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// dtype names the column type the way pandas prints it.
func dtype(cells []frame.Cell) string {
	if len(cells) == 0 {
		return "object"
	}
	allBool, allNum, integral, hasNull := true, true, true, false
	for _, c := range cells {
		switch c.Kind {
		case frame.KindNull:
			hasNull = true
			allBool = false
		case frame.KindNumber:
			allBool = false
			if c.Num != math.Trunc(c.Num) {
				integral = false
			}
		case frame.KindBool:
			allNum = false
		default:
			allBool, allNum = false, false
		}
	}
	switch {
	case allBool:
		return "bool"
	case allNum && integral && !hasNull:
		return "int64"
	case allNum:
		return "float64"
	}
	return "object"
}

// isNumericCells reports whether every non-null cell is a number or bool.
func isNumericCells(cells []frame.Cell) bool {
	for _, c := range cells {
		if c.Kind == frame.KindString {
			return false
		}
	}
	return true
}

func labels(index []frame.Cell) []string {
	out := make([]string, len(index))
	for i, c := range index {
		out[i] = c.String()
	}
	return out
}

// repr renders a value inside a list the way Python does.
func repr(v Value) string {
	switch x := v.(type) {
	case *Scalar:
		return cellRepr(x.Cell)
	case *List:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			parts[i] = repr(it)
		}
		if x.Tuple {
			if len(parts) == 1 {
				return "(" + parts[0] + ",)"
			}
			return "(" + strings.Join(parts, ", ") + ")"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return Format(v)
}

func cellRepr(c frame.Cell) string {
	switch c.Kind {
	case frame.KindString:
		return "'" + strings.ReplaceAll(c.Str, "'", `\'`) + "'"
	case frame.KindNull:
		return "nan"
	}
	return c.String()
}
