package diag

import "strings"

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevNote is for compiler notes attached to an error.
	SevNote Severity = iota
	// SevWarning is for warning diagnostics.
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevNote:
		return "NOTE"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// classify reports the severity a compiler line announces, if any.
func classify(line string) (Severity, bool) {
	switch {
	case strings.Contains(line, errorMarker):
		return SevError, true
	case strings.Contains(line, "warning: "):
		return SevWarning, true
	case strings.Contains(line, "note: "):
		return SevNote, true
	}
	return 0, false
}
