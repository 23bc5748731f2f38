// Package accum merges user statements into the accumulated program source.
package accum

import (
	"errors"

	"crepl/internal/source"
)

// ErrNoInsertionPoint is returned when a body statement arrives but the
// document has no marker line left to insert it in front of.
var ErrNoInsertionPoint = errors.New("no insertion point available")

// Accumulator produces candidate documents from the current one.
type Accumulator struct {
	tmpl Template
}

// New returns an accumulator driven by tmpl. A nil template selects
// DefaultTemplate.
func New(tmpl Template) *Accumulator {
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	return &Accumulator{tmpl: tmpl}
}

// Template returns the template in use.
func (a *Accumulator) Template() Template {
	return a.tmpl
}

// Accumulate returns a new document with stmt merged into current.
//
// Declarations (#include, #define) are prepended at file scope. Any other
// statement is placed immediately before the insertion marker, which is kept
// for the next cycle. Transient lines from earlier cycles are dropped in both
// cases. current is never modified.
func (a *Accumulator) Accumulate(current source.Document, stmt string) (source.Document, error) {
	declaration := a.tmpl.IsDeclaration(stmt)

	out := make(source.Document, 0, len(current)+1)
	if declaration {
		out = append(out, stmt)
	}

	inserted := declaration
	for _, line := range current {
		if a.tmpl.IsTransient(line) {
			continue
		}
		if !inserted && a.tmpl.IsInsertionPoint(line) {
			out = append(out, stmt)
			inserted = true
		}
		out = append(out, line)
	}

	if !inserted {
		return nil, ErrNoInsertionPoint
	}
	return out, nil
}
