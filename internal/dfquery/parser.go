package dfquery

import (
	"fmt"
	"strconv"
)

// ════════════════════════════════════════════════════════════════════
// Parser — Recursive Descent
// ════════════════════════════════════════════════════════════════════

// Parser transforms a token stream into an AST.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser from a token slice.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses one complete expression.
func (p *Parser) Parse() (Node, error) {
	if p.atEnd() {
		return nil, p.errorf(p.peek(), "empty expression")
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	switch tok := p.peek(); tok.Type {
	case TokenEOF:
		return node, nil
	case TokenAssign:
		return nil, &ParseError{Position: tok.Position, Message: "assignments are not allowed", Hint: "write a single expression; use '==' to compare"}
	case TokenComma:
		return nil, &ParseError{Position: tok.Position, Message: "only a single expression is allowed"}
	default:
		return nil, p.errorf(tok, "unexpected %s after expression", describe(tok))
	}
}

// ParseExpr is the top-level function to parse an expression string.
func ParseExpr(input string) (Node, error) {
	tokens, err := NewLexer(input).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).Parse()
}

// ────────────────────────────────────────────────────────────────────
// Token helpers
// ────────────────────────────────────────────────────────────────────

func (p *Parser) peek() Token {
	return p.peekN(0)
}

func (p *Parser) peekN(n int) Token {
	if p.pos+n >= len(p.tokens) {
		end := 0
		if len(p.tokens) > 0 {
			end = p.tokens[len(p.tokens)-1].Position
		}
		return Token{Type: TokenEOF, Position: end}
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) atEnd() bool {
	return p.peek().Type == TokenEOF
}

func (p *Parser) expect(typ TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != typ {
		if tok.Type == TokenAssign {
			return tok, &ParseError{Position: tok.Position, Message: "assignments are not allowed", Hint: "use '==' to compare"}
		}
		return tok, p.errorf(tok, "expected %s, got %s", typ, describe(tok))
	}
	return p.advance(), nil
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return &ParseError{Position: tok.Position, Message: fmt.Sprintf(format, args...)}
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenNumber, TokenIdentifier:
		return fmt.Sprintf("%s %s", tok.Type, tok.Value)
	case TokenString:
		return fmt.Sprintf("string %q", tok.Value)
	}
	return fmt.Sprintf("%q", tok.Type.String())
}

// ────────────────────────────────────────────────────────────────────
// Grammar (precedence from lowest to highest):
//   Or         → And ( 'or' And )*
//   And        → Not ( 'and' Not )*
//   Not        → 'not' Not | Comparison
//   Comparison → BitOr ( CompOp BitOr )?
//   BitOr      → BitAnd ( '|' BitAnd )*
//   BitAnd     → Additive ( '&' Additive )*
//   Additive   → Term ( ('+'|'-') Term )*
//   Term       → Unary ( ('*'|'/'|'//'|'%') Unary )*
//   Unary      → ('-'|'+'|'~') Unary | Power
//   Power      → Postfix ( '**' Unary )?
//   Postfix    → Primary ( '.' Name | '(' Args ')' | '[' Subscript ']' )*
//   Primary    → Number | String+ | True | False | None | Name
//              | '(' Expr ( ',' Expr )* ')' | '[' ( Expr ( ',' Expr )* )? ']'
// ────────────────────────────────────────────────────────────────────

func (p *Parser) parseOr() (Node, error) {
	return p.parseBinary(p.parseAnd, TokenOR)
}

func (p *Parser) parseAnd() (Node, error) {
	return p.parseBinary(p.parseNot, TokenAND)
}

func (p *Parser) parseNot() (Node, error) {
	if p.peek().Type == TokenNOT {
		tok := p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Position: tok.Position, Op: TokenNOT, Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[TokenType]bool{
	TokenGT: true, TokenLT: true, TokenGTE: true, TokenLTE: true,
	TokenEQ: true, TokenNEQ: true, TokenIN: true,
}

func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	negate := false
	if tok.Type == TokenNOT && p.peekN(1).Type == TokenIN {
		p.advance()
		tok = p.peek()
		negate = true
	}
	if !comparisonOps[tok.Type] {
		return left, nil
	}
	p.advance()
	right, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	if comparisonOps[p.peek().Type] {
		return nil, &ParseError{Position: p.peek().Position, Message: "chained comparisons are not supported", Hint: "combine comparisons with '&'"}
	}
	return &BinaryExpr{Position: tok.Position, Op: tok.Type, Left: left, Right: right, Negate: negate}, nil
}

func (p *Parser) parseBitOr() (Node, error) {
	return p.parseBinary(p.parseBitAnd, TokenPipe)
}

func (p *Parser) parseBitAnd() (Node, error) {
	return p.parseBinary(p.parseAdditive, TokenAmp)
}

func (p *Parser) parseAdditive() (Node, error) {
	return p.parseBinary(p.parseTerm, TokenPlus, TokenMinus)
}

func (p *Parser) parseTerm() (Node, error) {
	return p.parseBinary(p.parseUnary, TokenStar, TokenSlash, TokenDoubleSlash, TokenPercent)
}

// parseBinary parses a left-associative chain of the given operators.
func (p *Parser) parseBinary(next func() (Node, error), ops ...TokenType) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		matched := false
		for _, op := range ops {
			if tok.Type == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: tok.Position, Op: tok.Type, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Node, error) {
	switch tok := p.peek(); tok.Type {
	case TokenMinus, TokenPlus, TokenTilde:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenPlus {
			return operand, nil
		}
		if lit, ok := operand.(*NumberLit); ok && tok.Type == TokenMinus {
			return &NumberLit{Position: tok.Position, Value: -lit.Value, Raw: "-" + lit.Raw}, nil
		}
		return &UnaryExpr{Position: tok.Position, Op: tok.Type, Operand: operand}, nil
	}
	return p.parsePower()
}

func (p *Parser) parsePower() (Node, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenPower {
		return base, nil
	}
	tok := p.advance()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Position: tok.Position, Op: TokenPower, Left: base, Right: exp}, nil
}

func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch tok := p.peek(); tok.Type {
		case TokenDot:
			p.advance()
			name, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			node = &AttrExpr{Position: tok.Position, Object: node, Attr: name.Value}
		case TokenLParen:
			p.advance()
			call := &CallExpr{Position: tok.Position, Func: node}
			if err := p.parseArgs(call); err != nil {
				return nil, err
			}
			node = call
		case TokenLBracket:
			p.advance()
			index, err := p.parseSubscript()
			if err != nil {
				return nil, err
			}
			node = &IndexExpr{Position: tok.Position, Object: node, Index: index}
		default:
			return node, nil
		}
	}
}

func (p *Parser) parseArgs(call *CallExpr) error {
	for p.peek().Type != TokenRParen {
		if p.peek().Type == TokenIdentifier && p.peekN(1).Type == TokenAssign {
			name := p.advance()
			p.advance() // '='
			value, err := p.parseOr()
			if err != nil {
				return err
			}
			call.Kwargs = append(call.Kwargs, Kwarg{Name: name.Value, Value: value})
		} else {
			if len(call.Kwargs) > 0 {
				return p.errorf(p.peek(), "positional argument follows keyword argument")
			}
			arg, err := p.parseOr()
			if err != nil {
				return err
			}
			call.Args = append(call.Args, arg)
		}
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
	}
	_, err := p.expect(TokenRParen)
	return err
}

// parseSubscript parses the inside of [...] through the closing bracket.
func (p *Parser) parseSubscript() (Node, error) {
	start := p.peek().Position
	var items []Node
	for {
		item, err := p.parseSliceItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
		if p.peek().Type == TokenRBracket {
			break
		}
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return &ListLit{Position: start, Elems: items, Tuple: true}, nil
}

func (p *Parser) parseSliceItem() (Node, error) {
	tok := p.peek()
	var start Node
	if tok.Type != TokenColon {
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenColon {
			return n, nil
		}
		start = n
	}
	slice := &SliceExpr{Position: tok.Position, Start: start}
	p.advance() // ':'
	if t := p.peek().Type; t != TokenColon && t != TokenRBracket && t != TokenComma {
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		slice.Stop = n
	}
	if p.peek().Type == TokenColon {
		p.advance()
		if t := p.peek().Type; t != TokenRBracket && t != TokenComma {
			n, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			slice.Step = n
		}
	}
	return slice, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenNumber:
		p.advance()
		v, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %q", tok.Value)
		}
		return &NumberLit{Position: tok.Position, Value: v, Raw: tok.Value}, nil
	case TokenString:
		p.advance()
		s := tok.Value
		for p.peek().Type == TokenString {
			s += p.advance().Value
		}
		return &StringLit{Position: tok.Position, Value: s}, nil
	case TokenTrue, TokenFalse:
		p.advance()
		return &BoolLit{Position: tok.Position, Value: tok.Type == TokenTrue}, nil
	case TokenNone:
		p.advance()
		return &NoneLit{Position: tok.Position}, nil
	case TokenIdentifier:
		p.advance()
		return &Name{Position: tok.Position, Ident: tok.Value}, nil
	case TokenLParen:
		p.advance()
		elems, trailingComma, err := p.parseElems(TokenRParen)
		if err != nil {
			return nil, err
		}
		if len(elems) == 1 && !trailingComma {
			return elems[0], nil
		}
		return &ListLit{Position: tok.Position, Elems: elems, Tuple: true}, nil
	case TokenLBracket:
		p.advance()
		elems, _, err := p.parseElems(TokenRBracket)
		if err != nil {
			return nil, err
		}
		return &ListLit{Position: tok.Position, Elems: elems}, nil
	case TokenImport:
		return nil, &ParseError{Position: tok.Position, Message: fmt.Sprintf("%q is not allowed", tok.Value), Hint: "df and pd are already available"}
	case TokenEOF:
		return nil, p.errorf(tok, "unexpected end of input")
	}
	return nil, p.errorf(tok, "unexpected %s", describe(tok))
}

// parseElems parses a comma-separated expression list through the closing
// token.
func (p *Parser) parseElems(closing TokenType) ([]Node, bool, error) {
	var elems []Node
	trailing := false
	for p.peek().Type != closing {
		e, err := p.parseOr()
		if err != nil {
			return nil, false, err
		}
		elems = append(elems, e)
		trailing = false
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
		trailing = true
	}
	if _, err := p.expect(closing); err != nil {
		return nil, false, err
	}
	return elems, trailing, nil
}
