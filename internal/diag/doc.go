// Package diag turns raw compiler stderr into structured diagnostic groups.
//
// # Input shape
//
// The parser expects the GCC-style layout where every error occupies three
// lines:
//
//	repl-content.c:3:5: error: 'a' undeclared (first use in this function)
//	    3 |     a = 5;
//	      |     ^
//
// The head line is any line containing "error: ". The two lines after it are
// source context; everything up to and including the first "| " column
// marker is stripped.
//
// # Data model
//
// Group is one error: Message plus two Context lines, and an informational
// Location parsed from the "file:line:col:" prefix of the head. Only Message
// and Context take part in identity, so the same error reported twice (for
// example once per macro expansion) collapses into one entry of a Set.
//
// # Failure modes
//
// When a head line is not followed by two more lines Parse keeps what it has
// built and returns an error wrapping ErrMalformed. Callers are expected to
// fall back to showing the raw text; rendering lives in internal/diagfmt.
package diag
