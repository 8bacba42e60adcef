package format

import (
	"fmt"
	"io"
	"strings"
)

// TerminalFormatter prints reports for a terminal.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Write prints every message of every report, each under a small header.
func (f *TerminalFormatter) Write(w io.Writer, reports []Report) error {
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}

		since := "first run"
		if !r.Watermark.IsZero() {
			since = "since " + r.Watermark.UTC().Format("2006-01-02 15:04:05")
		}
		header := fmt.Sprintf("%s — %d messages, %s", r.Section, len(r.Messages), since)
		fmt.Fprintln(w, f.bold(header))
		fmt.Fprintln(w)

		if len(r.Messages) == 0 {
			fmt.Fprintln(w, f.dim("Nothing new."))
			continue
		}

		for n, m := range r.Messages {
			label := fmt.Sprintf("--- %s %d/%d (%d chars) ---", m.Kind, n+1, len(r.Messages), len([]rune(m.Content)))
			if m.Kind == KindDigest {
				fmt.Fprintln(w, f.yellow(label))
			} else {
				fmt.Fprintln(w, f.green(label))
			}
			for _, line := range strings.Split(m.Content, "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
