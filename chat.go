package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/JonMunkholm/DbChat/internal/nl2sql"
)

const (
	previewRows   = 5
	maxWrapWidth  = 120
	defaultWidth  = 80
	historyLimit  = 1000
	replPrompt    = "dbchat> "
	replGreeting  = "Ask a question about your data. Type 'exit' or 'quit' to leave."
	replFarewell  = "Goodbye!"
	spinnerSuffix = " Thinking..."
)

type replOptions struct {
	HistoryFile string
}

type replStyles struct {
	heading lipgloss.Style
	sql     lipgloss.Style
	err     lipgloss.Style
	dim     lipgloss.Style
}

func newREPLStyles(color bool) replStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return replStyles{heading: plain, sql: plain, err: plain, dim: plain}
	}
	return replStyles{
		heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		sql:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		err:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		dim:     lipgloss.NewStyle().Faint(true),
	}
}

// repl is the interactive chat loop.
type repl struct {
	assistant assistant
	out       io.Writer
	opts      replOptions
	tty       bool
	width     int
	styles    replStyles
}

func newREPL(ast assistant, out io.Writer, opts replOptions) *repl {
	tty := term.IsTerminal(int(os.Stdout.Fd()))
	width := defaultWidth
	if tty {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = min(w, maxWrapWidth)
		}
	}
	return &repl{
		assistant: ast,
		out:       out,
		opts:      opts,
		tty:       tty,
		width:     width,
		styles:    newREPLStyles(tty),
	}
}

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dbchat_history")
}

// Run reads questions until exit, quit, Ctrl-C, Ctrl-D or ctx is done.
func (r *repl) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.styles.heading.Render(replPrompt),
		HistoryFile:       r.opts.HistoryFile,
		HistoryLimit:      historyLimit,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rl.Close()
		case <-done:
		}
	}()

	fmt.Fprintln(r.out, r.styles.dim.Render(replGreeting))
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				fmt.Fprintln(r.out, replFarewell)
				return nil
			}
			return fmt.Errorf("readline: %w", err)
		}

		if !r.handle(ctx, line) {
			fmt.Fprintln(r.out, replFarewell)
			return nil
		}
	}
}

// handle answers one input line. It returns false when the user asked to
// leave.
func (r *repl) handle(ctx context.Context, line string) bool {
	question := strings.TrimSpace(line)
	switch strings.ToLower(question) {
	case "":
		return true
	case "exit", "quit":
		return false
	}

	stop := r.startSpinner()
	ans, err := r.assistant.Ask(ctx, question)
	stop()

	if err != nil {
		fmt.Fprintln(r.out, r.styles.err.Render("Error: "+err.Error()))
		return true
	}
	r.render(ans)
	return true
}

func (r *repl) startSpinner() func() {
	if !r.tty {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = spinnerSuffix
	s.Start()
	return s.Stop
}

func (r *repl) render(ans *nl2sql.Answer) {
	switch ans.Kind {
	case nl2sql.AnswerText:
		r.markdown(ans.Text)

	case nl2sql.AnswerDatabaseError:
		fmt.Fprintln(r.out, r.styles.err.Render("Database Error: "+ans.DBError.Error()))
		fmt.Fprintln(r.out, r.styles.dim.Render("SQL: "+ans.SQL))

	case nl2sql.AnswerAnalysis:
		fmt.Fprintln(r.out, r.styles.heading.Render("Generated SQL:"))
		fmt.Fprintln(r.out, r.styles.sql.Render(ans.SQL))
		fmt.Fprintln(r.out)
		r.previewRows(ans)
		r.markdown(analysisMarkdown(ans.Analysis))
	}
}

func (r *repl) previewRows(ans *nl2sql.Answer) {
	if ans.Rows == nil || len(ans.Rows.Rows) == 0 {
		fmt.Fprintln(r.out, r.styles.dim.Render("Query returned no rows."))
		fmt.Fprintln(r.out)
		return
	}

	total := len(ans.Rows.Rows)
	shown := min(total, previewRows)
	fmt.Fprintln(r.out, r.styles.heading.Render(fmt.Sprintf("Results (first %d of %d rows):", shown, total)))
	for _, row := range ans.Rows.Rows[:shown] {
		b, err := json.Marshal(row)
		if err != nil {
			continue
		}
		fmt.Fprintln(r.out, "  "+string(b))
	}
	fmt.Fprintln(r.out)
}

// markdown renders text through glamour, falling back to plain text.
func (r *repl) markdown(text string) {
	style := glamour.WithStandardStyle("notty")
	if r.tty {
		style = glamour.WithAutoStyle()
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(r.width))
	if err == nil {
		if rendered, err := renderer.Render(text); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintln(r.out, text)
}

func analysisMarkdown(a *nl2sql.Analysis) string {
	var sb strings.Builder
	sb.WriteString("## Analysis\n\n")
	sb.WriteString(a.Analysis)
	if a.Suggestions != "" {
		sb.WriteString("\n\n## Suggestions\n\n")
		sb.WriteString(a.Suggestions)
	}
	if a.ProductRecommendations != "" {
		sb.WriteString("\n\n## Product recommendations\n\n")
		sb.WriteString(a.ProductRecommendations)
	}
	return sb.String()
}
