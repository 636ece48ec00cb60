package dfquery

import (
	"fmt"
	"strings"
	"unicode"
)

// ════════════════════════════════════════════════════════════════════
// Token Types
// ════════════════════════════════════════════════════════════════════

// TokenType enumerates all token kinds produced by the lexer.
type TokenType int

const (
	TokenEOF TokenType = iota

	// Literals
	TokenNumber
	TokenString
	TokenIdentifier

	// Arithmetic
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenDoubleSlash
	TokenPercent
	TokenPower

	// Comparison
	TokenGT
	TokenLT
	TokenGTE
	TokenLTE
	TokenEQ
	TokenNEQ

	// Element-wise logic
	TokenAmp
	TokenPipe
	TokenTilde

	// Delimiters
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenColon
	TokenDot
	TokenAssign

	// Keywords
	TokenAND
	TokenOR
	TokenNOT
	TokenIN
	TokenTrue
	TokenFalse
	TokenNone
	TokenImport
)

var tokenTypeNames = map[TokenType]string{
	TokenEOF:         "end of input",
	TokenNumber:      "number",
	TokenString:      "string",
	TokenIdentifier:  "name",
	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenStar:        "*",
	TokenSlash:       "/",
	TokenDoubleSlash: "//",
	TokenPercent:     "%",
	TokenPower:       "**",
	TokenGT:          ">",
	TokenLT:          "<",
	TokenGTE:         ">=",
	TokenLTE:         "<=",
	TokenEQ:          "==",
	TokenNEQ:         "!=",
	TokenAmp:         "&",
	TokenPipe:        "|",
	TokenTilde:       "~",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenLBracket:    "[",
	TokenRBracket:    "]",
	TokenComma:       ",",
	TokenColon:       ":",
	TokenDot:         ".",
	TokenAssign:      "=",
	TokenAND:         "and",
	TokenOR:          "or",
	TokenNOT:         "not",
	TokenIN:          "in",
	TokenTrue:        "True",
	TokenFalse:       "False",
	TokenNone:        "None",
	TokenImport:      "import",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

var keywords = map[string]TokenType{
	"and":    TokenAND,
	"or":     TokenOR,
	"not":    TokenNOT,
	"in":     TokenIN,
	"True":   TokenTrue,
	"False":  TokenFalse,
	"None":   TokenNone,
	"import": TokenImport,
	"from":   TokenImport,
	"lambda": TokenImport,
}

// Token is a single lexical token.
type Token struct {
	Type     TokenType
	Value    string
	Position int // rune offset in source
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.Type, t.Value, t.Position)
}

// ════════════════════════════════════════════════════════════════════
// Lexer
// ════════════════════════════════════════════════════════════════════

// Lexer tokenizes a single expression.
type Lexer struct {
	input []rune
	pos   int
}

// NewLexer creates a lexer for input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input)}
}

// Tokenize returns all tokens, ending with TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) peekAt(off int) rune {
	if l.pos+off >= len(l.input) {
		return 0
	}
	return l.input[l.pos+off]
}

func (l *Lexer) errorf(pos int, format string, args ...any) error {
	return &ParseError{Position: pos, Message: fmt.Sprintf(format, args...)}
}

var twoCharTokens = map[string]TokenType{
	"**": TokenPower,
	"//": TokenDoubleSlash,
	">=": TokenGTE,
	"<=": TokenLTE,
	"==": TokenEQ,
	"!=": TokenNEQ,
}

var oneCharTokens = map[rune]TokenType{
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'>': TokenGT,
	'<': TokenLT,
	'&': TokenAmp,
	'|': TokenPipe,
	'~': TokenTilde,
	'(': TokenLParen,
	')': TokenRParen,
	'[': TokenLBracket,
	']': TokenRBracket,
	',': TokenComma,
	':': TokenColon,
	'.': TokenDot,
	'=': TokenAssign,
}

func (l *Lexer) next() (Token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Position: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch {
	case ch == ';':
		return Token{}, &ParseError{Position: start, Message: "only a single expression is allowed", Hint: "remove ';' and everything after it"}
	case ch == '#':
		// trailing comment
		l.pos = len(l.input)
		return Token{Type: TokenEOF, Position: start}, nil
	case ch == '"' || ch == '\'':
		return l.readString(ch)
	case unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(l.peekAt(1))):
		return l.readNumber()
	case unicode.IsLetter(ch) || ch == '_':
		return l.readIdentifier()
	}

	if l.pos+1 < len(l.input) {
		if typ, ok := twoCharTokens[string(l.input[l.pos:l.pos+2])]; ok {
			l.pos += 2
			return Token{Type: typ, Value: typ.String(), Position: start}, nil
		}
	}
	if typ, ok := oneCharTokens[ch]; ok {
		l.pos++
		return Token{Type: typ, Value: string(ch), Position: start}, nil
	}
	if ch == '!' {
		return Token{}, &ParseError{Position: start, Message: "unexpected '!'", Hint: "use '~' or 'not' for negation"}
	}
	return Token{}, l.errorf(start, "unexpected character %q", ch)
}

func (l *Lexer) readString(quote rune) (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.input) {
			return Token{}, l.errorf(start, "unterminated string literal")
		}
		ch := l.input[l.pos]
		l.pos++
		if ch == quote {
			break
		}
		if ch == '\\' && l.pos < len(l.input) {
			next := l.input[l.pos]
			l.pos++
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"', '\'':
				sb.WriteRune(next)
			default:
				sb.WriteRune('\\')
				sb.WriteRune(next)
			}
			continue
		}
		sb.WriteRune(ch)
	}
	return Token{Type: TokenString, Value: sb.String(), Position: start}, nil
}

func (l *Lexer) readNumber() (Token, error) {
	start := l.pos
	var sb strings.Builder
	hasDot, hasExp := false, false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case unicode.IsDigit(ch) || ch == '_':
			if ch != '_' {
				sb.WriteRune(ch)
			}
		case ch == '.' && !hasDot && !hasExp && !unicode.IsLetter(l.peekAt(1)) && l.peekAt(1) != '_':
			hasDot = true
			sb.WriteRune(ch)
		case (ch == 'e' || ch == 'E') && !hasExp && (unicode.IsDigit(l.peekAt(1)) || (l.peekAt(1) == '-' || l.peekAt(1) == '+') && unicode.IsDigit(l.peekAt(2))):
			hasExp = true
			sb.WriteRune(ch)
			if l.peekAt(1) == '-' || l.peekAt(1) == '+' {
				l.pos++
				sb.WriteRune(l.input[l.pos])
			}
		default:
			return Token{Type: TokenNumber, Value: sb.String(), Position: start}, nil
		}
		l.pos++
	}
	return Token{Type: TokenNumber, Value: sb.String(), Position: start}, nil
}

func (l *Lexer) readIdentifier() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && (unicode.IsLetter(l.input[l.pos]) || unicode.IsDigit(l.input[l.pos]) || l.input[l.pos] == '_') {
		l.pos++
	}
	word := string(l.input[start:l.pos])
	if typ, ok := keywords[word]; ok {
		return Token{Type: typ, Value: word, Position: start}, nil
	}
	return Token{Type: TokenIdentifier, Value: word, Position: start}, nil
}
