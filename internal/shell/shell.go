// Package shell is the interactive front end: it asks for the lookback and
// ticker, then forwards each prompt to the analyzer and prints the answer.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

// ════════════════════════════════════════════════════════════════════
// Interactive shell
// ════════════════════════════════════════════════════════════════════

const (
	YearsPrompt  = "Enter number of years to look back: "
	TickerPrompt = "Enter stock ticker: "
	ChatPrompt   = "Enter a prompt (or q to quit): "
)

const banner = `Stock Analysis Agent
Ask about prices, financial statements, key metrics and recent news.
Type q to quit.`

// Analyzer answers one prompt. *agent.StockAnalyzer implements it.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Shell reads lines from in and writes prompts and answers to out. All
// reads share one scanner, so the shell can be handed to other components
// that need to ask a question mid-session.
type Shell struct {
	scanner *bufio.Scanner
	out     io.Writer
	styles  styles
	logger  zerolog.Logger
	history []string
}

// Option configures a Shell.
type Option func(*Shell)

// WithLogger sets the shell logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Shell) { s.logger = l }
}

// New creates a shell over the given reader and writer.
func New(in io.Reader, out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		scanner: bufio.NewScanner(in),
		out:     out,
		styles:  newStyles(lipgloss.NewRenderer(out)),
		logger:  zerolog.Nop(),
	}
	s.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for _, o := range opts {
		o(s)
	}
	return s
}

// ── Startup questions ──

// AskYears asks for the lookback until a positive whole number is given.
func (s *Shell) AskYears() (int, error) {
	for {
		line, err := s.readLine(YearsPrompt)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(line)
		if err != nil || n <= 0 {
			s.printError("please enter a positive whole number of years")
			continue
		}
		return n, nil
	}
}

// AskTicker asks for the stock ticker and returns it uppercased.
func (s *Shell) AskTicker() (string, error) {
	line, err := s.Ask(TickerPrompt)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(line), nil
}

// Ask shows prompt until a non-empty line is entered and returns it
// trimmed. It returns io.EOF when input ends first.
func (s *Shell) Ask(prompt string) (string, error) {
	for {
		line, err := s.readLine(prompt)
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

// ── Prompt loop ──

// Run forwards every prompt to a until the user types q or input ends.
// Analyzer errors are printed and the loop continues; only a cancelled
// context or a read failure ends it with an error.
func (s *Shell) Run(ctx context.Context, a Analyzer) error {
	fmt.Fprintln(s.out, s.styles.banner.Render(banner))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := s.readLine(ChatPrompt)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if line == "q" || line == "Q" {
			fmt.Fprintln(s.out, s.styles.muted.Render("Goodbye!"))
			return nil
		}

		s.history = append(s.history, line)
		start := time.Now()
		answer, err := a.Analyze(ctx, line)
		elapsed := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Str("prompt", line).Msg("analysis failed")
			s.printError(err.Error())
			continue
		}
		s.logger.Debug().Dur("elapsed", elapsed).Msg("analysis done")
		fmt.Fprintln(s.out, answer)
		fmt.Fprintln(s.out, s.styles.muted.Render(fmt.Sprintf("(%s)", elapsed.Round(time.Millisecond))))
	}
}

// History returns the prompts sent to the analyzer this session.
func (s *Shell) History() []string {
	return s.history
}

func (s *Shell) readLine(prompt string) (string, error) {
	fmt.Fprint(s.out, s.styles.prompt.Render(strings.TrimRight(prompt, " "))+" ")
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", fmt.Errorf("shell: read input: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(s.scanner.Text()), nil
}

func (s *Shell) printError(msg string) {
	fmt.Fprintln(s.out, s.styles.err.Render("Error: "+msg))
}

// ════════════════════════════════════════════════════════════════════
// Styles
// ════════════════════════════════════════════════════════════════════

var (
	accentColor = lipgloss.Color("#7C3AED")
	promptColor = lipgloss.Color("#10B981")
	errorColor  = lipgloss.Color("#EF4444")
	mutedColor  = lipgloss.Color("#6B7280")
)

type styles struct {
	banner lipgloss.Style
	prompt lipgloss.Style
	err    lipgloss.Style
	muted  lipgloss.Style
}

// newStyles binds the palette to the renderer of the output stream, so
// writing to a pipe or a buffer yields plain text.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		banner: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1),
		prompt: r.NewStyle().Bold(true).Foreground(promptColor),
		err:    r.NewStyle().Foreground(errorColor),
		muted:  r.NewStyle().Foreground(mutedColor),
	}
}
