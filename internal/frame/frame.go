// Package frame implements the small column-oriented table used by every
// stage of the pipeline: the fetcher produces frames, the transforms reshape
// them, the store persists them as CSV, and the query engine evaluates
// expressions against them.
package frame

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Errors returned by frame operations.
var (
	ErrNoColumn       = errors.New("frame: no such column")
	ErrDuplicate      = errors.New("frame: duplicate column")
	ErrLengthMismatch = errors.New("frame: column length mismatch")
)

// ════════════════════════════════════════════════════════════════════
// Cells
// ════════════════════════════════════════════════════════════════════

// Kind enumerates the cell types a frame can hold.
type Kind uint8

const (
	KindNull   Kind = iota // missing value (NaN)
	KindNumber             // float64
	KindString             // string
	KindBool               // boolean, produced by comparisons
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Cell is a single table value.
type Cell struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

// Num creates a numeric cell. NaN becomes a null cell.
func Num(v float64) Cell {
	if math.IsNaN(v) {
		return Null()
	}
	return Cell{Kind: KindNumber, Num: v}
}

// Str creates a string cell.
func Str(s string) Cell {
	return Cell{Kind: KindString, Str: s}
}

// Bool creates a boolean cell.
func Bool(b bool) Cell {
	return Cell{Kind: KindBool, Bool: b}
}

// Null creates a missing cell.
func Null() Cell {
	return Cell{Kind: KindNull}
}

// IsNull reports whether the cell is missing.
func (c Cell) IsNull() bool { return c.Kind == KindNull }

// Float returns the numeric value of the cell. Booleans count as 0/1 and
// numeric strings are parsed.
func (c Cell) Float() (float64, bool) {
	switch c.Kind {
	case KindNumber:
		return c.Num, true
	case KindBool:
		if c.Bool {
			return 1, true
		}
		return 0, true
	case KindString:
		v, err := strconv.ParseFloat(c.Str, 64)
		return v, err == nil
	}
	return math.NaN(), false
}

// Text returns the CSV representation of the cell. Null is empty.
func (c Cell) Text() string {
	switch c.Kind {
	case KindNumber:
		return FormatFloat(c.Num)
	case KindString:
		return c.Str
	case KindBool:
		if c.Bool {
			return "True"
		}
		return "False"
	}
	return ""
}

// String returns the display representation of the cell. Null is NaN.
func (c Cell) String() string {
	if c.Kind == KindNull {
		return "NaN"
	}
	return c.Text()
}

// Equal reports whether two cells hold the same value. Nulls never compare
// equal, matching NaN semantics.
func (c Cell) Equal(o Cell) bool {
	if c.Kind == KindNull || o.Kind == KindNull {
		return false
	}
	if c.Kind == KindString || o.Kind == KindString {
		return c.Kind == o.Kind && c.Str == o.Str
	}
	a, _ := c.Float()
	b, _ := o.Float()
	return a == b
}

// Less orders cells: numbers before strings, nulls last.
func (c Cell) Less(o Cell) bool {
	if c.Kind == KindNull {
		return false
	}
	if o.Kind == KindNull {
		return true
	}
	if c.Kind == KindString && o.Kind == KindString {
		return c.Str < o.Str
	}
	if c.Kind == KindString {
		return false
	}
	if o.Kind == KindString {
		return true
	}
	a, _ := c.Float()
	b, _ := o.Float()
	return a < b
}

// FormatFloat renders a float without trailing zeros; integral values are
// written without a decimal point.
func FormatFloat(v float64) string {
	if math.IsInf(v, 0) {
		if v > 0 {
			return "inf"
		}
		return "-inf"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ════════════════════════════════════════════════════════════════════
// Frame
// ════════════════════════════════════════════════════════════════════

// Frame is an ordered set of equal-length named columns.
type Frame struct {
	names []string
	cols  map[string][]Cell
	rows  int
}

// New creates an empty frame with the given column names.
func New(names ...string) *Frame {
	f := &Frame{cols: make(map[string][]Cell, len(names))}
	for _, n := range names {
		if _, ok := f.cols[n]; ok {
			continue
		}
		f.names = append(f.names, n)
		f.cols[n] = nil
	}
	return f
}

// FromRows builds a frame from row-major cells.
func FromRows(names []string, rows [][]Cell) (*Frame, error) {
	f := New(names...)
	if len(f.names) != len(names) {
		return nil, fmt.Errorf("%w in %v", ErrDuplicate, names)
	}
	for i, r := range rows {
		if err := f.AppendRow(r...); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.rows }

// Width returns the number of columns.
func (f *Frame) Width() int { return len(f.names) }

// Empty reports whether the frame has no rows or no columns.
func (f *Frame) Empty() bool { return f.rows == 0 || len(f.names) == 0 }

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Has reports whether the named column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column returns the cells of the named column. The slice must not be
// modified.
func (f *Frame) Column(name string) ([]Cell, bool) {
	c, ok := f.cols[name]
	return c, ok
}

// At returns the cell at row i of the named column.
func (f *Frame) At(i int, name string) Cell {
	c, ok := f.cols[name]
	if !ok || i < 0 || i >= f.rows {
		return Null()
	}
	return c[i]
}

// Row returns the cells of row i in column order.
func (f *Frame) Row(i int) []Cell {
	out := make([]Cell, len(f.names))
	for j, n := range f.names {
		out[j] = f.cols[n][i]
	}
	return out
}

// AppendRow appends one row. Missing trailing cells are null.
func (f *Frame) AppendRow(cells ...Cell) error {
	if len(cells) > len(f.names) {
		return fmt.Errorf("%w: %d cells for %d columns", ErrLengthMismatch, len(cells), len(f.names))
	}
	for j, n := range f.names {
		c := Null()
		if j < len(cells) {
			c = cells[j]
		}
		f.cols[n] = append(f.cols[n], c)
	}
	f.rows++
	return nil
}

// AddColumn appends a column. On a frame without columns it sets the row
// count.
func (f *Frame) AddColumn(name string, cells []Cell) error {
	return f.InsertColumn(len(f.names), name, cells)
}

// InsertColumn inserts a column at position pos.
func (f *Frame) InsertColumn(pos int, name string, cells []Cell) error {
	if _, ok := f.cols[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	if len(f.names) > 0 && len(cells) != f.rows {
		return fmt.Errorf("%w: column %q has %d rows, frame has %d", ErrLengthMismatch, name, len(cells), f.rows)
	}
	if pos < 0 || pos > len(f.names) {
		pos = len(f.names)
	}
	f.names = append(f.names, "")
	copy(f.names[pos+1:], f.names[pos:])
	f.names[pos] = name
	f.cols[name] = cells
	f.rows = len(cells)
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := New(f.names...)
	for _, n := range f.names {
		out.cols[n] = append([]Cell(nil), f.cols[n]...)
	}
	out.rows = f.rows
	return out
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := New()
	for _, n := range names {
		c, ok := f.cols[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoColumn, n)
		}
		if err := out.AddColumn(n, append([]Cell(nil), c...)); err != nil {
			return nil, err
		}
	}
	if len(names) == 0 {
		out.rows = 0
	}
	return out, nil
}

// Drop returns a frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := New()
	for _, n := range f.names {
		if skip[n] {
			continue
		}
		out.names = append(out.names, n)
		out.cols[n] = append([]Cell(nil), f.cols[n]...)
	}
	out.rows = f.rows
	if len(out.names) == 0 {
		out.rows = 0
	}
	return out
}

// Rename returns a frame with columns renamed per the mapping.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	out := New()
	for _, n := range f.names {
		name := n
		if to, ok := mapping[n]; ok {
			name = to
		}
		if err := out.AddColumn(name, append([]Cell(nil), f.cols[n]...)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Take returns the rows at the given positions, in that order.
func (f *Frame) Take(idx []int) *Frame {
	out := New(f.names...)
	for _, n := range f.names {
		src := f.cols[n]
		dst := make([]Cell, len(idx))
		for k, i := range idx {
			dst[k] = src[i]
		}
		out.cols[n] = dst
	}
	out.rows = len(idx)
	return out
}

// Filter returns the rows for which keep returns true.
func (f *Frame) Filter(keep func(i int) bool) *Frame {
	var idx []int
	for i := 0; i < f.rows; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame {
	return f.Take(span(0, clamp(n, 0, f.rows)))
}

// Tail returns the last n rows.
func (f *Frame) Tail(n int) *Frame {
	n = clamp(n, 0, f.rows)
	return f.Take(span(f.rows-n, f.rows))
}

// Transpose turns rows into columns. Values of keyCol become the new column
// names; the old column names (other than keyCol) become the values of a new
// first column called newKey.
func (f *Frame) Transpose(keyCol, newKey string) (*Frame, error) {
	keys, ok := f.cols[keyCol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, keyCol)
	}
	out := New(newKey)
	var labels []Cell
	for _, n := range f.names {
		if n != keyCol {
			labels = append(labels, Str(n))
		}
	}
	out.cols[newKey] = labels
	out.rows = len(labels)
	for i, k := range keys {
		cells := make([]Cell, 0, len(labels))
		for _, n := range f.names {
			if n != keyCol {
				cells = append(cells, f.cols[n][i])
			}
		}
		if err := out.AddColumn(k.Text(), cells); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Concat stacks frames row-wise. The result has the union of all columns
// in first-seen order; cells missing from a frame are null.
func Concat(frames ...*Frame) *Frame {
	out := New()
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, n := range fr.names {
			if !out.Has(n) {
				out.names = append(out.names, n)
				out.cols[n] = nullCells(out.rows)
			}
		}
		for _, n := range out.names {
			if c, ok := fr.cols[n]; ok {
				out.cols[n] = append(out.cols[n], c...)
			} else {
				out.cols[n] = append(out.cols[n], nullCells(fr.rows)...)
			}
		}
		out.rows += fr.rows
	}
	return out
}

// Melt unpivots the frame to long format. Every column not in idVars becomes
// one block of rows carrying (idVars..., varName, valueName); blocks follow
// column order, rows within a block follow row order.
func (f *Frame) Melt(idVars []string, varName, valueName string) (*Frame, error) {
	ids := make(map[string]bool, len(idVars))
	for _, id := range idVars {
		if !f.Has(id) {
			return nil, fmt.Errorf("%w: %q", ErrNoColumn, id)
		}
		ids[id] = true
	}
	names := append(append([]string{}, idVars...), varName, valueName)
	out := New(names...)
	for _, n := range f.names {
		if ids[n] {
			continue
		}
		for i := 0; i < f.rows; i++ {
			for _, id := range idVars {
				out.cols[id] = append(out.cols[id], f.cols[id][i])
			}
			out.cols[varName] = append(out.cols[varName], Str(n))
			out.cols[valueName] = append(out.cols[valueName], f.cols[n][i])
			out.rows++
		}
	}
	return out, nil
}

// IsNumeric reports whether every non-null cell of the column is a number.
func (f *Frame) IsNumeric(name string) bool {
	c, ok := f.cols[name]
	if !ok {
		return false
	}
	seen := false
	for _, v := range c {
		switch v.Kind {
		case KindNull:
		case KindNumber:
			seen = true
		default:
			return false
		}
	}
	return seen
}

func nullCells(n int) []Cell {
	out := make([]Cell, n)
	return out
}

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
