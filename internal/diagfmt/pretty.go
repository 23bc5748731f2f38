package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"crepl/internal/diag"
)

// Pretty prints each group as three lines: the message, then both context
// lines. With ShowLocation the message is prefixed with file:line:col.
func Pretty(w io.Writer, set *diag.Set, opts PrettyOpts) error {
	msgColor := color.New(color.FgRed, color.Bold)
	locColor := color.New(color.Bold)
	caretColor := color.New(color.FgGreen)
	if opts.Color {
		msgColor.EnableColor()
		locColor.EnableColor()
		caretColor.EnableColor()
	} else {
		msgColor.DisableColor()
		locColor.DisableColor()
		caretColor.DisableColor()
	}

	for _, g := range set.Items() {
		head := msgColor.Sprint(g.Message)
		if loc := g.Location.String(); opts.ShowLocation && loc != "" {
			head = locColor.Sprint(loc+": ") + head
		}
		if _, err := fmt.Fprintln(w, head); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, g.Context[0]); err != nil {
			return err
		}
		ctx2 := g.Context[1]
		if isCaretLine(ctx2) {
			ctx2 = caretColor.Sprint(ctx2)
		}
		if _, err := fmt.Fprintln(w, ctx2); err != nil {
			return err
		}
	}
	return nil
}

// Raw prints compiler output untouched, used when Parse gave up.
func Raw(w io.Writer, text string) error {
	if text == "" {
		return nil
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := io.WriteString(w, text)
	return err
}

func isCaretLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return strings.Trim(trimmed, "^~") == ""
}
