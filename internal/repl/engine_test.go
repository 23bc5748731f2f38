package repl

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crepl/internal/accum"
	"crepl/internal/buildpipeline"
	"crepl/internal/session"
	"crepl/internal/source"
	"crepl/internal/trace"
)

// scriptedBuilder classifies candidates by marker words instead of running
// a compiler.
type scriptedBuilder struct {
	built []source.Document
}

var errToolchainGone = errors.New("compiler vanished")

func (b *scriptedBuilder) Build(_ context.Context, doc source.Document) (buildpipeline.Result, error) {
	b.built = append(b.built, doc.Clone())
	text := doc.String()
	switch {
	case strings.Contains(text, "FATAL"):
		return buildpipeline.Result{}, errToolchainGone
	case strings.Contains(text, "a = 5;") && !strings.Contains(text, "int a"):
		return buildpipeline.Result{
			Kind:        buildpipeline.CompileFailed,
			Diagnostics: "repl.c:3:5: error: 'a' undeclared\n    a = 5;\n    | ^\n",
		}, nil
	case strings.Contains(text, "BROKEN"):
		return buildpipeline.Result{
			Kind:        buildpipeline.CompileFailed,
			Diagnostics: "collect2: error: ld returned 1 exit status\n",
		}, nil
	case strings.Contains(text, "LOOP"):
		return buildpipeline.Result{Kind: buildpipeline.RunTimedOut}, nil
	case strings.Contains(text, "printf"):
		return buildpipeline.Result{Kind: buildpipeline.Compiled, Output: "5\n"}, nil
	}
	return buildpipeline.Result{Kind: buildpipeline.Compiled}, nil
}

func newEngine(t *testing.T) (*Engine, *scriptedBuilder) {
	t.Helper()
	tmpl := accum.DefaultTemplate()
	sess, err := session.Open(session.PathsIn(filepath.Join(t.TempDir(), "work")), tmpl)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	b := &scriptedBuilder{}
	return New(sess, accum.New(tmpl), b), b
}

func TestEvalPromotesOnSuccess(t *testing.T) {
	e, _ := newEngine(t)
	out, err := e.Eval(context.Background(), "int a = 5;\n")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out.Kind != Evaluated {
		t.Fatalf("Kind = %v", out.Kind)
	}
	if out.Statement != "int a = 5;" {
		t.Fatalf("statement not normalised: %q", out.Statement)
	}
	cur := e.Session().Current()
	if !e.Session().LastGood().Equal(cur) {
		t.Fatalf("lastGood != current after success")
	}
	if cur[1] != "int a = 5;" {
		t.Fatalf("statement not inserted: %q", cur)
	}
}

func TestEvalRollsBackOnCompileFailure(t *testing.T) {
	e, _ := newEngine(t)
	before := e.Session().LastGood()

	out, err := e.Eval(context.Background(), "a = 5;")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out.Kind != CompileFailed {
		t.Fatalf("Kind = %v", out.Kind)
	}
	if e.Session().Current().String() != before.String() {
		t.Fatalf("current not reverted: %q", e.Session().Current())
	}
	if out.Diagnostics.Len() != 1 || out.Malformed {
		t.Fatalf("unexpected diagnostics: %+v malformed=%v", out.Diagnostics.Items(), out.Malformed)
	}
	g := out.Diagnostics.Items()[0]
	if g.Message != "'a' undeclared" || g.Context[0] != "a = 5;" || g.Context[1] != "^" {
		t.Fatalf("unexpected group: %+v", g)
	}
}

func TestRollbackEqualsPreviousLastGood(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	stmts := []string{"int a = 1;", "BROKEN", "int b = 2;", "LOOP;", "BROKEN again", "int c = 3;"}
	for _, stmt := range stmts {
		prevGood := e.Session().LastGood()
		out, err := e.Eval(ctx, stmt)
		if err != nil {
			t.Fatalf("Eval(%q): %v", stmt, err)
		}
		switch out.Kind {
		case CompileFailed, TimedOut:
			if e.Session().Current().String() != prevGood.String() {
				t.Fatalf("after failed %q current = %q, want %q", stmt, e.Session().Current(), prevGood)
			}
			if !e.Session().LastGood().Equal(prevGood) {
				t.Fatalf("failed cycle changed lastGood")
			}
		case Evaluated:
			if !e.Session().LastGood().Equal(e.Session().Current()) {
				t.Fatalf("success did not promote")
			}
		default:
			t.Fatalf("unexpected kind %v for %q", out.Kind, stmt)
		}
	}
	final := e.Session().Current().String()
	for _, want := range []string{"int a = 1;", "int b = 2;", "int c = 3;"} {
		if !strings.Contains(final, want) {
			t.Fatalf("missing %q in %q", want, final)
		}
	}
	if strings.Contains(final, "BROKEN") || strings.Contains(final, "LOOP") {
		t.Fatalf("failed statements leaked into source: %q", final)
	}
}

func TestEvalMalformedDiagnostics(t *testing.T) {
	e, _ := newEngine(t)
	out, err := e.Eval(context.Background(), "BROKEN")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out.Kind != CompileFailed || !out.Malformed {
		t.Fatalf("expected malformed compile failure, got %+v", out)
	}
	if !strings.Contains(out.RawDiagnostics, "collect2") {
		t.Fatalf("raw diagnostics lost: %q", out.RawDiagnostics)
	}
}

func TestEvalPrintOutputIsNotReplayed(t *testing.T) {
	e, b := newEngine(t)
	ctx := context.Background()
	if _, err := e.Eval(ctx, "#include <stdio.h>"); err != nil {
		t.Fatalf("Eval include: %v", err)
	}
	out, err := e.Eval(ctx, `printf("%d\n", 5);`)
	if err != nil {
		t.Fatalf("Eval printf: %v", err)
	}
	if out.Output != "5\n" {
		t.Fatalf("Output = %q", out.Output)
	}
	if _, err := e.Eval(ctx, "int z = 0;"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	last := b.built[len(b.built)-1]
	if strings.Contains(last.String(), "printf") {
		t.Fatalf("printf replayed: %q", last)
	}
	if last[0] != "#include <stdio.h>" {
		t.Fatalf("include lost: %q", last)
	}
}

func TestEvalRejectsWithoutInsertionPoint(t *testing.T) {
	e, b := newEngine(t)
	doc := source.Document{"int main(void) {", "    return 0;", "}"}
	if err := e.Session().Commit(doc); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	out, err := e.Eval(context.Background(), "int a;")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out.Kind != Rejected || !errors.Is(out.Reason, accum.ErrNoInsertionPoint) {
		t.Fatalf("expected rejection, got %+v", out)
	}
	if len(b.built) != 0 {
		t.Fatalf("rejected statement must not be built")
	}
	if !e.Session().Current().Equal(doc) {
		t.Fatalf("rejection changed the session")
	}
}

func TestEvalFatalBuilderErrorSkipsRollback(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Eval(context.Background(), "FATAL;")
	if !errors.Is(err, errToolchainGone) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !strings.Contains(e.Session().Current().String(), "FATAL;") {
		t.Fatalf("fatal error must not trigger a rollback")
	}
}

func TestCloseResets(t *testing.T) {
	e, _ := newEngine(t)
	if _, err := e.Eval(context.Background(), "int a = 1;"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	skeleton := source.Split(accum.DefaultSkeleton)
	if !e.Session().Current().Equal(skeleton) || !e.Session().LastGood().Equal(skeleton) {
		t.Fatalf("Close did not reset the session")
	}
}

type timedBuilder struct{}

func (timedBuilder) Build(context.Context, source.Document) (buildpipeline.Result, error) {
	res := buildpipeline.Result{Kind: buildpipeline.Compiled}
	res.Timings.Set(buildpipeline.StageCompile, 2*time.Millisecond)
	res.Timings.Set(buildpipeline.StageRun, 3*time.Millisecond)
	return res, nil
}

func TestEvalTracesBuildTime(t *testing.T) {
	tmpl := accum.DefaultTemplate()
	sess, err := session.Open(session.PathsIn(filepath.Join(t.TempDir(), "work")), tmpl)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	e := New(sess, accum.New(tmpl), timedBuilder{})
	ring := trace.NewRingTracer(64, trace.LevelDebug)
	if _, err := e.Eval(trace.WithTracer(context.Background(), ring), "int a;"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	for _, ev := range ring.Snapshot() {
		if ev.Kind == trace.KindSpanEnd && ev.Name == "eval" {
			if got := ev.Extra["build"]; got != "5ms" {
				t.Fatalf("build extra = %q, want 5ms", got)
			}
			return
		}
	}
	t.Fatalf("no end event for the eval span")
}

func TestNormalizeStatement(t *testing.T) {
	cases := map[string]string{
		"int a;  \r\n":          "int a;",
		"\tint a;":              "\tint a;",
		"char *s = \"e\u0301\";": "char *s = \"\u00e9\";",
		"":                      "",
	}
	for in, want := range cases {
		if got := NormalizeStatement(in); got != want {
			t.Fatalf("NormalizeStatement(%q) = %q, want %q", in, got, want)
		}
	}
}
