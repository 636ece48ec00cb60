// Package dfquery evaluates single dataframe expressions, written the way an
// analyst would type them into a notebook, against a frame.Frame. The
// expression language is a side-effect-free subset: there are no
// assignments, imports or statements, only one expression whose value is
// returned.
package dfquery

import (
	"fmt"
	"strings"
)

// ════════════════════════════════════════════════════════════════════
// AST Nodes
// ════════════════════════════════════════════════════════════════════

// Node is implemented by every AST node.
type Node interface {
	Pos() int
	String() string
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Position int
	Value    float64
	Raw      string
}

func (n *NumberLit) Pos() int       { return n.Position }
func (n *NumberLit) String() string { return n.Raw }

// StringLit is a quoted string literal.
type StringLit struct {
	Position int
	Value    string
}

func (n *StringLit) Pos() int       { return n.Position }
func (n *StringLit) String() string { return fmt.Sprintf("%q", n.Value) }

// BoolLit is True or False.
type BoolLit struct {
	Position int
	Value    bool
}

func (n *BoolLit) Pos() int { return n.Position }
func (n *BoolLit) String() string {
	if n.Value {
		return "True"
	}
	return "False"
}

// NoneLit is None.
type NoneLit struct {
	Position int
}

func (n *NoneLit) Pos() int       { return n.Position }
func (n *NoneLit) String() string { return "None" }

// Name is a bare identifier such as df, len or pd.
type Name struct {
	Position int
	Ident    string
}

func (n *Name) Pos() int       { return n.Position }
func (n *Name) String() string { return n.Ident }

// ListLit is [a, b, ...]. Tuple marks a parenthesised or bare comma list.
type ListLit struct {
	Position int
	Elems    []Node
	Tuple    bool
}

func (n *ListLit) Pos() int { return n.Position }
func (n *ListLit) String() string {
	parts := make([]string, len(n.Elems))
	for i, e := range n.Elems {
		parts[i] = e.String()
	}
	if n.Tuple {
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// UnaryExpr is -x, +x, ~x or not x.
type UnaryExpr struct {
	Position int
	Op       TokenType
	Operand  Node
}

func (n *UnaryExpr) Pos() int { return n.Position }
func (n *UnaryExpr) String() string {
	if n.Op == TokenNOT {
		return "not " + n.Operand.String()
	}
	return n.Op.String() + n.Operand.String()
}

// BinaryExpr is a binary operator application.
type BinaryExpr struct {
	Position int
	Op       TokenType
	Left     Node
	Right    Node
	Negate   bool // "not in"
}

func (n *BinaryExpr) Pos() int { return n.Position }
func (n *BinaryExpr) String() string {
	op := n.Op.String()
	if n.Negate {
		op = "not " + op
	}
	return fmt.Sprintf("(%s %s %s)", n.Left, op, n.Right)
}

// AttrExpr is obj.name.
type AttrExpr struct {
	Position int
	Object   Node
	Attr     string
}

func (n *AttrExpr) Pos() int       { return n.Position }
func (n *AttrExpr) String() string { return n.Object.String() + "." + n.Attr }

// Kwarg is a keyword argument in a call.
type Kwarg struct {
	Name  string
	Value Node
}

// CallExpr is fn(args..., name=value...).
type CallExpr struct {
	Position int
	Func     Node
	Args     []Node
	Kwargs   []Kwarg
}

func (n *CallExpr) Pos() int { return n.Position }
func (n *CallExpr) String() string {
	parts := make([]string, 0, len(n.Args)+len(n.Kwargs))
	for _, a := range n.Args {
		parts = append(parts, a.String())
	}
	for _, kw := range n.Kwargs {
		parts = append(parts, kw.Name+"="+kw.Value.String())
	}
	return n.Func.String() + "(" + strings.Join(parts, ", ") + ")"
}

// IndexExpr is obj[index]. A comma-separated subscript arrives as a tuple
// ListLit.
type IndexExpr struct {
	Position int
	Object   Node
	Index    Node
}

func (n *IndexExpr) Pos() int       { return n.Position }
func (n *IndexExpr) String() string { return n.Object.String() + "[" + n.Index.String() + "]" }

// SliceExpr is start:stop:step inside a subscript. Absent parts are nil.
type SliceExpr struct {
	Position int
	Start    Node
	Stop     Node
	Step     Node
}

func (n *SliceExpr) Pos() int { return n.Position }
func (n *SliceExpr) String() string {
	s := func(x Node) string {
		if x == nil {
			return ""
		}
		return x.String()
	}
	out := s(n.Start) + ":" + s(n.Stop)
	if n.Step != nil {
		out += ":" + s(n.Step)
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Errors
// ════════════════════════════════════════════════════════════════════

// ParseError captures parsing errors with position context. Expressions are
// a single line, so Column is Position+1.
type ParseError struct {
	Position int
	Message  string
	Hint     string // optional suggestion
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse error at col %d: %s", e.Position+1, e.Message)
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	return msg
}

// EvalError reports a failure while evaluating a well-formed expression.
type EvalError struct {
	Position int
	Expr     string
	Message  string
}

func (e *EvalError) Error() string {
	if e.Expr == "" {
		return "eval error: " + e.Message
	}
	return fmt.Sprintf("eval error in %s: %s", e.Expr, e.Message)
}

func evalErrorf(n Node, format string, args ...any) error {
	e := &EvalError{Message: fmt.Sprintf(format, args...)}
	if n != nil {
		e.Position = n.Pos()
		e.Expr = n.String()
	}
	return e
}
