// Package repl runs one read-eval-print cycle: accumulate the statement,
// commit the candidate, build it, then promote or roll back.
package repl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"crepl/internal/accum"
	"crepl/internal/buildpipeline"
	"crepl/internal/diag"
	"crepl/internal/observ"
	"crepl/internal/session"
	"crepl/internal/source"
	"crepl/internal/trace"
)

// Builder compiles and runs a candidate document.
type Builder interface {
	Build(ctx context.Context, doc source.Document) (buildpipeline.Result, error)
}

// Kind classifies a finished cycle.
type Kind uint8

const (
	// Evaluated means the candidate compiled and ran; it is now lastGood.
	Evaluated Kind = iota + 1
	// CompileFailed means the candidate was rolled back on compiler errors.
	CompileFailed
	// TimedOut means the program exceeded the run deadline and was rolled back.
	TimedOut
	// Rejected means the statement could not be placed; nothing changed.
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Evaluated:
		return "evaluated"
	case CompileFailed:
		return "compile-failed"
	case TimedOut:
		return "timed-out"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Outcome is what the front end shows for one cycle.
type Outcome struct {
	Kind      Kind
	Statement string
	Output    string
	Stderr    string
	ExitCode  int

	Diagnostics    *diag.Set
	RawDiagnostics string
	// Malformed is set when the compiler output could not be grouped; show
	// RawDiagnostics instead of Diagnostics.
	Malformed bool
	Cached    bool

	// Reason explains a Rejected cycle.
	Reason error
	Timer  *observ.Timer
}

// Engine drives cycles against one session.
type Engine struct {
	sess    *session.Session
	acc     *accum.Accumulator
	builder Builder
	cycles  int
}

// New returns an engine. The accumulator should share the session's template.
func New(sess *session.Session, acc *accum.Accumulator, builder Builder) *Engine {
	return &Engine{sess: sess, acc: acc, builder: builder}
}

// Session exposes the underlying session.
func (e *Engine) Session() *session.Session {
	return e.sess
}

// Cycles returns how many statements have been evaluated.
func (e *Engine) Cycles() int {
	return e.cycles
}

// NormalizeStatement strips the line terminator and trailing blanks and
// brings the text to NFC so that equal input is byte-equal on disk.
func NormalizeStatement(line string) string {
	return norm.NFC.String(strings.TrimRight(line, " \t\r\n"))
}

// Eval runs one full cycle for stmt.
//
// The returned error is fatal: the session can no longer guarantee that the
// files on disk match its state, or the toolchain is unusable. Compile
// failures, timeouts and rejected statements are ordinary outcomes.
func (e *Engine) Eval(ctx context.Context, stmt string) (Outcome, error) {
	stmt = NormalizeStatement(stmt)
	e.cycles++

	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeCycle, "eval", trace.CurrentSpan(ctx).SpanID)
	span.WithExtra("cycle", fmt.Sprint(e.cycles))
	ctx = trace.WithSpan(ctx, span)

	out := Outcome{Statement: stmt, Timer: observ.NewTimer()}

	idx := out.Timer.Begin("accumulate")
	candidate, err := e.acc.Accumulate(e.sess.Current(), stmt)
	out.Timer.End(idx, "")
	if err != nil {
		if errors.Is(err, accum.ErrNoInsertionPoint) {
			out.Kind = Rejected
			out.Reason = err
			span.End(out.Kind.String())
			return out, nil
		}
		span.End(err.Error())
		return out, err
	}

	if err := e.sess.Commit(candidate); err != nil {
		span.End(err.Error())
		return out, err
	}

	res, err := e.builder.Build(ctx, candidate)
	recordTimings(out.Timer, res)
	span.WithExtra("build", res.Timings.Sum(buildpipeline.StageWrite, buildpipeline.StageCompile, buildpipeline.StageRun).String())
	if err != nil {
		span.End(err.Error())
		return out, err
	}
	out.Cached = res.Cached

	switch res.Kind {
	case buildpipeline.Compiled:
		if err := e.sess.Promote(); err != nil {
			span.End(err.Error())
			return out, err
		}
		out.Kind = Evaluated
		out.Output = res.Output
		out.Stderr = res.Stderr
		out.ExitCode = res.ExitCode

	case buildpipeline.CompileFailed:
		if err := e.sess.Rollback(); err != nil {
			span.End(err.Error())
			return out, err
		}
		out.Kind = CompileFailed
		out.RawDiagnostics = res.Diagnostics
		set, parseErr := diag.Parse(res.Diagnostics)
		out.Diagnostics = set
		out.Malformed = parseErr != nil || set.Len() == 0
		if parseErr != nil {
			trace.Point(tracer, trace.ScopeStage, "diag.malformed", parseErr.Error(), span.ID())
		}

	case buildpipeline.RunTimedOut:
		if err := e.sess.Rollback(); err != nil {
			span.End(err.Error())
			return out, err
		}
		out.Kind = TimedOut
		out.Output = res.Output
		out.Stderr = res.Stderr

	default:
		err := fmt.Errorf("unexpected build result %v", res.Kind)
		span.End(err.Error())
		return out, err
	}

	span.End(out.Kind.String())
	return out, nil
}

// Close resets the session to the skeleton; called when the session ends.
func (e *Engine) Close() error {
	return e.sess.Reset()
}

func recordTimings(t *observ.Timer, res buildpipeline.Result) {
	for _, stage := range []buildpipeline.Stage{buildpipeline.StageWrite, buildpipeline.StageCompile, buildpipeline.StageRun} {
		if !res.Timings.Has(stage) {
			continue
		}
		note := ""
		if stage == buildpipeline.StageCompile && res.Cached {
			note = "cached"
		}
		t.Record(string(stage), res.Timings.Duration(stage), note)
	}
}
