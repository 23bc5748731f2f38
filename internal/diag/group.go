package diag

import "fmt"

// Location is the file:line:col prefix of a diagnostic head.
// Zero Line means the head carried no position.
type Location struct {
	File string
	Line uint32
	Col  uint32
}

func (l Location) String() string {
	switch {
	case l.File == "":
		return ""
	case l.Line == 0:
		return l.File
	case l.Col == 0:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Group is one compiler error with two lines of source context.
type Group struct {
	Message  string
	Context  [2]string
	Location Location
}

// Lines returns message and context in display order.
func (g Group) Lines() []string {
	return []string{g.Message, g.Context[0], g.Context[1]}
}

type groupKey struct {
	msg  string
	ctx1 string
	ctx2 string
}

func (g Group) key() groupKey {
	return groupKey{msg: g.Message, ctx1: g.Context[0], ctx2: g.Context[1]}
}

// Set is a deduplicated collection of groups. Items come back in the order
// they were first added.
type Set struct {
	items  []Group
	seen   map[groupKey]struct{}
	counts [SevError + 1]int
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{seen: make(map[groupKey]struct{})}
}

// Add inserts g unless an identical group is already present.
// Reports whether g was added.
func (s *Set) Add(g Group) bool {
	if s.Contains(g) {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[groupKey]struct{})
	}
	s.seen[g.key()] = struct{}{}
	s.items = append(s.items, g)
	return true
}

// Len returns the number of distinct groups.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items возвращает read-only slice групп.
func (s *Set) Items() []Group {
	if s == nil {
		return nil
	}
	return s.items
}

// Contains reports whether an identical group is present.
func (s *Set) Contains(g Group) bool {
	if s == nil || s.seen == nil {
		return false
	}
	_, ok := s.seen[g.key()]
	return ok
}

// Count returns how many head lines of the given severity were seen,
// duplicates included.
func (s *Set) Count(sev Severity) int {
	if s == nil || int(sev) >= len(s.counts) {
		return 0
	}
	return s.counts[sev]
}

func (s *Set) note(sev Severity) {
	if int(sev) < len(s.counts) {
		s.counts[sev]++
	}
}
