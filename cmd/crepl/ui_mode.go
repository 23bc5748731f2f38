package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	case "off":
		return uiModeOff, nil
	default:
		return "", fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
}

// shouldUseTUI picks the Bubble Tea front end only when both ends of the
// session are a terminal; piped input always gets the line loop.
func shouldUseTUI(mode uiMode) bool {
	switch mode {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	default:
		return isTerminal(os.Stdin) && isTerminal(os.Stdout)
	}
}

// applyColorMode sets fatih/color's global switch and reports whether
// colored output is on.
func applyColorMode(value string) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		// color.NoColor already reflects NO_COLOR and the stdout TTY check
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return false, fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
	return !color.NoColor, nil
}
