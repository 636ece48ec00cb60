package dfquery

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seenimoa/stockagent/internal/agent/prompts"
	"github.com/seenimoa/stockagent/internal/frame"
	"github.com/seenimoa/stockagent/internal/llm"
)

// headRows is how many rows of the table the model sees in the prompt.
const headRows = 5

// ════════════════════════════════════════════════════════════════════
// Natural-language query engine
// ════════════════════════════════════════════════════════════════════

// Engine answers natural-language questions about one table by asking the
// model for an expression over df and evaluating it locally.
type Engine struct {
	name     string
	provider llm.LLMProvider
	frame    *frame.Frame
	eval     *Evaluator
	logger   zerolog.Logger
	verbose  io.Writer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithName sets the table name used in logs.
func WithName(name string) EngineOption {
	return func(e *Engine) { e.name = name }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithVerbose echoes every generated expression and its output to w.
func WithVerbose(w io.Writer) EngineOption {
	return func(e *Engine) { e.verbose = w }
}

// NewEngine creates a query engine over f.
func NewEngine(provider llm.LLMProvider, f *frame.Frame, opts ...EngineOption) *Engine {
	e := &Engine{
		name:     "df",
		provider: provider,
		frame:    f,
		eval:     NewEvaluator(f),
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Prompt renders the model prompt for a question.
func (e *Engine) Prompt(question string) string {
	return prompts.TableQuery(frame.Render(e.frame.Head(headRows), 0), question)
}

// Query asks the model for an expression answering question, evaluates it
// and returns the formatted result. A failing expression is reported in
// the returned text rather than as an error so the caller can rephrase;
// only a model failure returns an error.
func (e *Engine) Query(ctx context.Context, question string) (string, error) {
	reply, err := llm.Complete(ctx, e.provider, "", e.Prompt(question))
	if err != nil {
		return "", fmt.Errorf("dfquery: %s: %w", e.name, err)
	}
	expr := ExtractExpression(reply)
	if expr == "" {
		return "", fmt.Errorf("dfquery: %s: %w", e.name, llm.ErrEmptyResponse)
	}
	e.logger.Debug().Str("table", e.name).Str("expr", expr).Msg("evaluating expression")

	v, err := e.eval.Eval(expr)
	if err != nil {
		e.logger.Warn().Err(err).Str("table", e.name).Str("expr", expr).Msg("expression failed")
		out := fmt.Sprintf("Error evaluating expression %q: %v", expr, err)
		e.echo(expr, out)
		return out, nil
	}
	out := Format(v)
	e.echo(expr, out)
	return out, nil
}

func (e *Engine) echo(expr, out string) {
	if e.verbose == nil {
		return
	}
	fmt.Fprintf(e.verbose, "> Pandas Instructions:\n```\n%s\n```\n> Pandas Output: %s\n", expr, out)
}

// ExtractExpression pulls the expression out of a model reply: code fences,
// an "Expression:" label, surrounding backticks or quotes and a print()
// wrapper are removed, and the last non-empty line is kept.
func ExtractExpression(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			if tag := strings.TrimSpace(s[:nl]); tag == "" || isFenceTag(tag) {
				s = s[nl+1:]
			}
		}
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	lines := strings.Split(s, "\n")
	s = ""
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			s = l
			break
		}
	}

	s = strings.TrimSpace(strings.TrimPrefix(s, "Expression:"))
	s = strings.Trim(s, "`")
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] && !strings.ContainsRune(s[1:len(s)-1], rune(s[0])) {
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "print(") && strings.HasSuffix(s, ")") {
		s = s[len("print(") : len(s)-1]
	}
	return strings.TrimSpace(s)
}

func isFenceTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "python", "py", "python3", "pandas":
		return true
	}
	return false
}
