package buildpipeline

import "time"

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageWrite persists the candidate source.
	StageWrite Stage = "write"
	// StageCompile runs the external compiler.
	StageCompile Stage = "compile"
	// StageRun executes the produced binary.
	StageRun Stage = "run"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusWorking indicates the task is currently working.
	StatusWorking Status = "working"
	// StatusDone indicates the task is done.
	StatusDone Status = "done"
	// StatusError indicates the task encountered an error.
	StatusError Status = "error"
	// StatusCached indicates the stage was answered from the cache.
	StatusCached Status = "cached"
)

// Event reports progress for one stage of a build.
type Event struct {
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// Kind classifies the outcome of one build.
type Kind uint8

const (
	// Compiled means the compiler succeeded and the binary ran to completion.
	Compiled Kind = iota + 1
	// CompileFailed means the compiler exited non-zero.
	CompileFailed
	// RunTimedOut means the binary was killed after the run deadline.
	RunTimedOut
)

func (k Kind) String() string {
	switch k {
	case Compiled:
		return "compiled"
	case CompileFailed:
		return "compile-failed"
	case RunTimedOut:
		return "run-timed-out"
	}
	return "unknown"
}

// Result is produced once per cycle and consumed immediately.
type Result struct {
	Kind        Kind
	Output      string // program stdout
	Stderr      string // program stderr
	ExitCode    int
	Diagnostics string // compiler stderr
	Cached      bool
	Timings     Timings
}

// Failed reports whether the candidate must be rolled back.
func (r Result) Failed() bool {
	return r.Kind != Compiled
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
