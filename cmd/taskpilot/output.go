package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"taskpilot/internal/resolve"
	"taskpilot/internal/session"
	"taskpilot/internal/task"
)

var (
	colorAccent  = lipgloss.Color("#7c3aed")
	colorSuccess = lipgloss.Color("#10b981")
	colorWarning = lipgloss.Color("#f59e0b")
	colorError   = lipgloss.Color("#ef4444")
	colorMuted   = lipgloss.Color("#6b7280")
)

// styles holds the CLI renderers. Everything is plain when the writer is not a terminal.
type styles struct {
	Reply   lipgloss.Style
	Prompt  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newStyles(w io.Writer) styles {
	if !isTerminal(w) {
		noop := lipgloss.NewStyle()
		return styles{Reply: noop, Prompt: noop, Success: noop, Warning: noop, Error: noop, Muted: noop, Bold: noop}
	}
	return styles{
		Reply: lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(colorAccent),
		Prompt:  lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		Success: lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Bold:    lipgloss.NewStyle().Bold(true),
	}
}

// renderResult prints the model's reply followed by any choices it must pick from.
func renderResult(w io.Writer, res *session.Result) {
	s := newStyles(w)
	text := strings.TrimSpace(res.Text)
	if text == "" && res.Outcome != nil {
		text = res.Outcome.Message
	}
	if text != "" {
		fmt.Fprintln(w, s.Reply.Render(text))
	}
	if res.Outcome != nil && res.Outcome.Kind == resolve.KindAmbiguous {
		renderChoices(w, s, res.Outcome.Choices)
	}
	if res.Exhausted {
		fmt.Fprintln(w, s.Warning.Render(fmt.Sprintf("(stopped after %d model calls)", res.ModelCalls)))
	}
}

// renderOutcome prints a failure outcome.
func renderOutcome(w io.Writer, o resolve.Outcome) {
	s := newStyles(w)
	msg := o.Message
	if o.Retryable {
		msg += " " + s.Muted.Render("(retryable)")
	}
	fmt.Fprintln(w, s.Error.Render("error:")+" "+msg)
}

func renderChoices(w io.Writer, s styles, choices []resolve.Choice) {
	for i, c := range choices {
		fmt.Fprintf(w, "  %d. %s %s %s\n", i+1, s.Bold.Render(c.Title), s.Muted.Render("["+string(c.Status)+"]"), s.Muted.Render(c.ID))
	}
}

// renderTasks prints one line per task, newest first.
func renderTasks(w io.Writer, tasks []*task.Task) {
	s := newStyles(w)
	if len(tasks) == 0 {
		fmt.Fprintln(w, s.Muted.Render("No tasks."))
		return
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%s  %-11s  p%-2d  %s", t.ID, statusStyle(s, t.Status).Render(string(t.Status)), t.Priority, t.Title)
		if t.DueDate != nil {
			line += s.Muted.Render("  due " + t.DueDate.String())
		}
		fmt.Fprintln(w, line)
	}
}

func statusStyle(s styles, st task.Status) lipgloss.Style {
	switch st {
	case task.StatusDone:
		return s.Success
	case task.StatusInProgress:
		return s.Warning
	case task.StatusBlocked:
		return s.Error
	default:
		return s.Muted
	}
}
