// Package diagfmt renders diagnostic groups for the terminal or for tools.
package diagfmt

import (
	"fmt"
	"strings"
)

// Format selects how diagnostics are printed.
type Format uint8

const (
	// FormatPretty prints message and context lines, optionally colored.
	FormatPretty Format = iota
	// FormatJSON prints one JSON document per failed cycle.
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatPretty:
		return "pretty"
	case FormatJSON:
		return "json"
	}
	return "unknown"
}

// ParseFormat converts a flag value to Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pretty":
		return FormatPretty, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatPretty, fmt.Errorf("invalid diagnostics format: %q (expected: pretty|json)", s)
	}
}

// PrettyOpts configures pretty-printing of diagnostics.
type PrettyOpts struct {
	Color        bool
	ShowLocation bool
}
