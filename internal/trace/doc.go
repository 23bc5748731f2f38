// Package trace is crepl's event log.
//
// It records sessions, evaluation cycles and build stages so that a slow
// compiler or a hanging program can be diagnosed after the fact.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	crepl --trace=- --trace-level=detail
//	crepl --trace=session.ndjson --trace-mode=both
//
// # Architecture
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: immediate write to a file or stderr (text or NDJSON)
//   - RingTracer: circular buffer, dumped when the session dies
//   - MultiTracer: fan-out to several tracers
//   - Heartbeat: periodic liveness events while a cycle blocks
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only the crash dump
//   - LevelPhase: session and cycle boundaries
//   - LevelDetail: build stages
//   - LevelDebug: everything
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeCycle, "eval", parentID)
//	defer span.End("")
package trace
