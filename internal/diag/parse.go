package diag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// ErrMalformed reports compiler output that does not follow the
// three-lines-per-error layout.
var ErrMalformed = errors.New("malformed diagnostic output")

const (
	errorMarker   = "error: "
	contextMarker = "| "
)

// Parse extracts error groups from compiler stderr.
//
// On malformed input the returned set still holds every group that could be
// built, and the error wraps ErrMalformed.
func Parse(text string) (*Set, error) {
	set := NewSet()
	lines := strings.Split(text, "\n")

	var malformed []int
	for i, line := range lines {
		sev, ok := classify(line)
		if !ok {
			continue
		}
		set.note(sev)
		if sev != SevError {
			continue
		}
		if i+2 >= len(lines) {
			malformed = append(malformed, i+1)
			continue
		}
		set.Add(Group{
			Message:  extractMessage(line),
			Context:  [2]string{extractContext(lines[i+1]), extractContext(lines[i+2])},
			Location: parseLocation(line),
		})
	}

	if len(malformed) > 0 {
		return set, fmt.Errorf("%w: error at line %d has no source context", ErrMalformed, malformed[0])
	}
	return set, nil
}

// indexAfter ищет needle, пропуская первые len(needle) байт строки.
func indexAfter(haystack, needle string) int {
	if len(haystack) < len(needle) {
		return -1
	}
	idx := strings.Index(haystack[len(needle):], needle)
	if idx < 0 {
		return -1
	}
	return idx + len(needle)
}

func extractMessage(line string) string {
	idx := indexAfter(line, errorMarker)
	if idx < 0 {
		// "cc1: error: ..." puts the marker inside the skipped prefix
		idx = strings.Index(line, errorMarker)
	}
	return line[idx+len(errorMarker):]
}

func extractContext(line string) string {
	idx := indexAfter(line, contextMarker)
	if idx < 0 {
		return strings.TrimSpace(line)
	}
	return line[idx+len(contextMarker):]
}

// parseLocation reads "file:line:col: " in front of the error marker.
func parseLocation(line string) Location {
	idx := strings.Index(line, errorMarker)
	if idx <= 0 {
		return Location{}
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(line[:idx]), ":")
	parts := strings.Split(prefix, ":")

	var nums []uint32
	for len(parts) > 1 && len(nums) < 2 {
		n, ok := parseUint32(parts[len(parts)-1])
		if !ok {
			break
		}
		nums = append(nums, n)
		parts = parts[:len(parts)-1]
	}

	loc := Location{File: strings.Join(parts, ":")}
	switch len(nums) {
	case 1:
		loc.Line = nums[0]
	case 2:
		loc.Line, loc.Col = nums[1], nums[0]
	}
	return loc
}

func parseUint32(s string) (uint32, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return 0, false
	}
	return v, true
}
