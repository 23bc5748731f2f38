package accum

import (
	"errors"
	"fmt"
	"strings"

	"crepl/internal/source"
)

// ErrBadTemplate reports a skeleton that cannot host statements.
var ErrBadTemplate = errors.New("invalid source template")

const (
	// DefaultMarker is the comment line statements are inserted in front of.
	DefaultMarker = "// write here"
	// DefaultSkeleton is the program every session starts from.
	DefaultSkeleton = "int main(void) {\n    // write here\n    return 0;\n}"
)

var declarationDirectives = []string{"#define", "#include"}

// Template decides where statements go in a document.
// The accumulator only asks questions through this interface, so a different
// templating strategy can be swapped in without touching the session logic.
type Template interface {
	// Skeleton returns a fresh copy of the initial document.
	Skeleton() source.Document
	// IsInsertionPoint reports whether line is the insertion marker.
	IsInsertionPoint(line string) bool
	// IsTransient reports whether line is a previous output-producing
	// statement that must not be replayed on the next cycle.
	IsTransient(line string) bool
	// IsDeclaration reports whether stmt belongs at file scope.
	IsDeclaration(stmt string) bool
}

// MarkerTemplate is the literal-marker template: statements are inserted in
// front of the first line containing Marker, printf lines are transient, and
// #include / #define go to the top of the file.
type MarkerTemplate struct {
	skeleton source.Document
	marker   string
}

// NewMarkerTemplate validates skeleton and returns a template for it.
// Empty arguments select the defaults.
func NewMarkerTemplate(skeleton, marker string) (*MarkerTemplate, error) {
	if skeleton == "" {
		skeleton = DefaultSkeleton
	}
	if strings.TrimSpace(marker) == "" {
		marker = DefaultMarker
	}
	if strings.Contains(marker, "printf") {
		return nil, fmt.Errorf("%w: marker %q would be dropped as a transient line", ErrBadTemplate, marker)
	}
	doc := source.Split(skeleton)
	count := 0
	for _, line := range doc {
		if strings.Contains(line, marker) {
			count++
		}
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: skeleton must contain marker %q exactly once, found %d", ErrBadTemplate, marker, count)
	}
	return &MarkerTemplate{skeleton: doc, marker: marker}, nil
}

// DefaultTemplate returns the built-in main() skeleton.
func DefaultTemplate() *MarkerTemplate {
	tmpl, err := NewMarkerTemplate(DefaultSkeleton, DefaultMarker)
	if err != nil {
		panic(err)
	}
	return tmpl
}

func (t *MarkerTemplate) Skeleton() source.Document {
	return t.skeleton.Clone()
}

// Marker returns the marker text.
func (t *MarkerTemplate) Marker() string {
	return t.marker
}

func (t *MarkerTemplate) IsInsertionPoint(line string) bool {
	return strings.Contains(line, t.marker)
}

func (t *MarkerTemplate) IsTransient(line string) bool {
	return strings.Contains(line, "printf")
}

func (t *MarkerTemplate) IsDeclaration(stmt string) bool {
	for _, directive := range declarationDirectives {
		if strings.Contains(stmt, directive) {
			return true
		}
	}
	return false
}
