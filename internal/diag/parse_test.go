package diag

import (
	"errors"
	"strings"
	"testing"
)

const gccUndeclared = `repl-content.c: In function 'main':
repl-content.c:3:5: error: 'a' undeclared (first use in this function)
    3 |     a = 5;
      |     ^
repl-content.c:3:5: note: each undeclared identifier is reported only once for each function it appears in
`

func TestParseGCCError(t *testing.T) {
	set, err := Parse(gccUndeclared)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 group, got %d: %+v", set.Len(), set.Items())
	}
	g := set.Items()[0]
	if g.Message != "'a' undeclared (first use in this function)" {
		t.Fatalf("Message = %q", g.Message)
	}
	if g.Context[0] != "    a = 5;" {
		t.Fatalf("Context[0] = %q", g.Context[0])
	}
	if g.Context[1] != "    ^" {
		t.Fatalf("Context[1] = %q", g.Context[1])
	}
	want := Location{File: "repl-content.c", Line: 3, Col: 5}
	if g.Location != want {
		t.Fatalf("Location = %+v, want %+v", g.Location, want)
	}
	if set.Count(SevNote) != 1 {
		t.Fatalf("expected one note, got %d", set.Count(SevNote))
	}
}

func TestParseContextWithoutColumnMarker(t *testing.T) {
	text := "repl.c:3:5: error: 'a' undeclared\n    a = 5;\n    | ^\n"
	set, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 group, got %d", set.Len())
	}
	got := set.Items()[0].Lines()
	want := []string{"'a' undeclared", "a = 5;", "^"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseDeduplicatesIdenticalGroups(t *testing.T) {
	block := "repl-content.c:4:5: error: expected ';' before 'return'\n    4 |     int a = 5\n      |              ^\n"
	set, err := Parse(block + block)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected dedup to 1 group, got %d", set.Len())
	}
	if set.Count(SevError) != 2 {
		t.Fatalf("expected 2 error heads counted, got %d", set.Count(SevError))
	}
}

func TestParseKeepsDistinctGroups(t *testing.T) {
	text := strings.Join([]string{
		"repl-content.c:2:5: error: 'x' undeclared",
		"    2 |     x = 1;",
		"      |     ^",
		"repl-content.c:3:5: error: 'y' undeclared",
		"    3 |     y = 2;",
		"      |     ^",
		"",
	}, "\n")
	set, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 groups, got %d", set.Len())
	}
	if set.Items()[0].Message != "'x' undeclared" || set.Items()[1].Message != "'y' undeclared" {
		t.Fatalf("unexpected order: %+v", set.Items())
	}
}

func TestParseMarkerInsideSkippedPrefix(t *testing.T) {
	text := "cc1: error: unrecognized command-line option\nfoo\nbar"
	set, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := set.Items()[0].Message; got != "unrecognized command-line option" {
		t.Fatalf("Message = %q", got)
	}
	if loc := set.Items()[0].Location; loc.File != "cc1" || loc.Line != 0 {
		t.Fatalf("Location = %+v", loc)
	}
}

func TestParseMalformedTail(t *testing.T) {
	text := "repl-content.c:2:5: error: 'x' undeclared\n    2 |     x = 1;\n      |     ^\ncollect2: error: ld returned 1 exit status\n"
	set, err := Parse(text)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected the well-formed group to survive, got %d", set.Len())
	}
}

func TestParseNoErrors(t *testing.T) {
	set, err := Parse("/usr/bin/ld: cannot find -lfoo\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty set, got %d", set.Len())
	}
}

func TestSetContains(t *testing.T) {
	set := NewSet()
	g := Group{Message: "m", Context: [2]string{"a", "b"}}
	if !set.Add(g) {
		t.Fatalf("first Add should succeed")
	}
	other := g
	other.Location = Location{File: "x.c", Line: 9}
	if set.Add(other) {
		t.Fatalf("location must not affect identity")
	}
	if !set.Contains(Group{Message: "m", Context: [2]string{"a", "b"}}) {
		t.Fatalf("Contains = false")
	}
}

func TestLocationString(t *testing.T) {
	cases := []struct {
		loc  Location
		want string
	}{
		{Location{}, ""},
		{Location{File: "a.c"}, "a.c"},
		{Location{File: "a.c", Line: 2}, "a.c:2"},
		{Location{File: "a.c", Line: 2, Col: 7}, "a.c:2:7"},
	}
	for _, tc := range cases {
		if got := tc.loc.String(); got != tc.want {
			t.Fatalf("String(%+v) = %q, want %q", tc.loc, got, tc.want)
		}
	}
}
