package main

import (
	"bytes"
	"io"
	"strings"

	"github.com/fatih/color"

	"crepl/internal/diagfmt"
	"crepl/internal/repl"
)

// outcomePrinter renders cycle outcomes for both front ends.
type outcomePrinter struct {
	format  diagfmt.Format
	pretty  diagfmt.PrettyOpts
	timings bool
	quiet   bool
	// streamed is set when program output already reached the terminal
	// while the program ran.
	streamed bool
	timeout  string
}

func (p outcomePrinter) render(o repl.Outcome) string {
	var buf bytes.Buffer
	// bytes.Buffer never fails
	_ = p.print(&buf, o)
	return buf.String()
}

func (p outcomePrinter) print(w io.Writer, o repl.Outcome) error {
	note := color.New(color.Faint)
	warn := color.New(color.FgYellow)

	switch o.Kind {
	case repl.Evaluated:
		if !p.streamed && o.Output != "" {
			if _, err := io.WriteString(w, o.Output); err != nil {
				return err
			}
		}
		if o.Output != "" && !strings.HasSuffix(o.Output, "\n") {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if !p.streamed && o.Stderr != "" {
			if _, err := io.WriteString(w, ensureNewline(o.Stderr)); err != nil {
				return err
			}
		}
		if o.ExitCode != 0 && !p.quiet {
			if _, err := note.Fprintf(w, "program exited with status %d\n", o.ExitCode); err != nil {
				return err
			}
		}

	case repl.CompileFailed:
		if err := p.printDiagnostics(w, o); err != nil {
			return err
		}

	case repl.TimedOut:
		if !p.streamed && o.Output != "" {
			if _, err := io.WriteString(w, ensureNewline(o.Output)); err != nil {
				return err
			}
		}
		if _, err := warn.Fprintf(w, "program killed after %s; statement discarded\n", p.timeout); err != nil {
			return err
		}

	case repl.Rejected:
		if _, err := warn.Fprintf(w, "statement rejected: %v\n", o.Reason); err != nil {
			return err
		}
	}

	if p.timings && o.Timer != nil {
		if _, err := note.Fprint(w, o.Timer.Summary()); err != nil {
			return err
		}
	}
	return nil
}

func (p outcomePrinter) printDiagnostics(w io.Writer, o repl.Outcome) error {
	if p.format == diagfmt.FormatJSON {
		return diagfmt.JSON(w, o.Diagnostics, o.RawDiagnostics, o.Malformed)
	}
	if o.Malformed {
		return diagfmt.Raw(w, o.RawDiagnostics)
	}
	if err := diagfmt.Pretty(w, o.Diagnostics, p.pretty); err != nil {
		return err
	}
	if o.Cached && !p.quiet {
		if _, err := color.New(color.Faint).Fprintln(w, "(diagnostics from cache)"); err != nil {
			return err
		}
	}
	return nil
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func formatTimeout(s string) string {
	if s == "" || s == "0s" {
		return "the run limit"
	}
	return s
}
