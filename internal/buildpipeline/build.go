// Package buildpipeline compiles the accumulated source with an external C
// compiler and runs the resulting binary.
//
// The compiler and the produced program are collaborators, not part of this
// package: Runner only orchestrates them and classifies what happened.
package buildpipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crepl/internal/dcache"
	"crepl/internal/source"
	"crepl/internal/trace"
)

// ErrToolchain marks failures to start the compiler or the produced binary.
// These are configuration problems, never a reason to roll back.
var ErrToolchain = errors.New("toolchain failure")

const (
	// DefaultCompiler is used when Config.Compiler is empty.
	DefaultCompiler = "gcc"
	// DefaultRunTimeout bounds a single program run.
	DefaultRunTimeout = 10 * time.Second

	// pipeGrace is how long output pumps may outlive a killed program before
	// its pipes are closed under them.
	pipeGrace = 500 * time.Millisecond
)

// DefaultFlags makes calls to undeclared functions a hard error: the
// accumulated body routinely calls library functions whose headers were
// never included.
func DefaultFlags() []string {
	return []string{"-Werror=implicit-function-declaration"}
}

// Config wires a Runner to its on-disk locations and collaborators.
type Config struct {
	Compiler   string
	Flags      []string
	SourcePath string
	BinaryPath string
	// RunTimeout kills the produced binary after this long. Zero waits forever.
	RunTimeout time.Duration
	// Stream and StreamErr receive program output while it runs.
	Stream    io.Writer
	StreamErr io.Writer
	Cache     *dcache.Cache
	Progress  ProgressSink
}

// Runner builds and runs candidate documents.
type Runner struct {
	cfg Config

	identOnce sync.Once
	ident     string
}

// NewRunner fills defaults into cfg.
func NewRunner(cfg Config) *Runner {
	if cfg.Compiler == "" {
		cfg.Compiler = DefaultCompiler
	}
	if cfg.Flags == nil {
		cfg.Flags = DefaultFlags()
	}
	return &Runner{cfg: cfg}
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// SetProgress replaces the progress sink.
func (r *Runner) SetProgress(sink ProgressSink) {
	r.cfg.Progress = sink
}

// CheckToolchain verifies the compiler can be found.
func (r *Runner) CheckToolchain() error {
	if _, err := exec.LookPath(r.cfg.Compiler); err != nil {
		return fmt.Errorf("%w: compiler %q not found; install it or set [compiler].command", ErrToolchain, r.cfg.Compiler)
	}
	return nil
}

// Build persists doc, compiles it and, when that succeeds, runs the binary.
//
// A returned error is fatal for the session: I/O failures, a compiler or
// binary that cannot be started, or ctx cancellation. Every per-cycle outcome
// is reported through Result.Kind instead.
func (r *Runner) Build(ctx context.Context, doc source.Document) (Result, error) {
	var result Result
	tracer := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx).SpanID

	src := doc.Bytes()
	writeStart := time.Now()
	emitStage(r.cfg.Progress, StageWrite, StatusWorking, nil, 0)
	if err := os.WriteFile(r.cfg.SourcePath, src, 0o600); err != nil {
		err = fmt.Errorf("failed to write source %q: %w", r.cfg.SourcePath, err)
		emitStage(r.cfg.Progress, StageWrite, StatusError, err, 0)
		return result, err
	}
	result.Timings.Set(StageWrite, time.Since(writeStart))
	emitStage(r.cfg.Progress, StageWrite, StatusDone, nil, result.Timings.Duration(StageWrite))

	key, cacheable := r.cacheKey(ctx)
	if !cacheable && r.cfg.Cache != nil {
		trace.Point(tracer, trace.ScopeStage, "dcache.skip", "no key", parent)
	} else if entry, ok, err := r.cfg.Cache.Get(key); err != nil {
		trace.Point(tracer, trace.ScopeStage, "dcache.get", err.Error(), parent)
	} else if ok {
		trace.Point(tracer, trace.ScopeStage, "dcache.hit", key.String()[:12], parent)
		emitStage(r.cfg.Progress, StageCompile, StatusCached, nil, 0)
		result.Timings.Set(StageCompile, 0)
		result.Kind = CompileFailed
		result.Diagnostics = entry.Diagnostics
		result.ExitCode = entry.ExitCode
		result.Cached = true
		return result, nil
	}

	compileStart := time.Now()
	emitStage(r.cfg.Progress, StageCompile, StatusWorking, nil, 0)
	span := trace.Begin(tracer, trace.ScopeStage, "compile", parent)
	diagnostics, exitCode, err := r.compile(ctx)
	result.Timings.Set(StageCompile, time.Since(compileStart))
	if err != nil {
		span.End(err.Error())
		emitStage(r.cfg.Progress, StageCompile, StatusError, err, 0)
		return result, err
	}
	if exitCode != 0 {
		span.WithExtra("exit", fmt.Sprint(exitCode)).End("failed")
		emitStage(r.cfg.Progress, StageCompile, StatusDone, nil, result.Timings.Duration(StageCompile))
		result.Kind = CompileFailed
		result.Diagnostics = diagnostics
		result.ExitCode = exitCode
		if cacheable && !linkFailure(diagnostics) {
			if putErr := r.cfg.Cache.Put(key, dcache.Entry{Diagnostics: diagnostics, ExitCode: exitCode}); putErr != nil {
				trace.Point(tracer, trace.ScopeStage, "dcache.put", putErr.Error(), parent)
			}
		}
		return result, nil
	}
	span.End("ok")
	emitStage(r.cfg.Progress, StageCompile, StatusDone, nil, result.Timings.Duration(StageCompile))

	runStart := time.Now()
	emitStage(r.cfg.Progress, StageRun, StatusWorking, nil, 0)
	span = trace.Begin(tracer, trace.ScopeStage, "run", parent)
	run, err := r.run(ctx)
	result.Timings.Set(StageRun, time.Since(runStart))
	if err != nil {
		span.End(err.Error())
		emitStage(r.cfg.Progress, StageRun, StatusError, err, 0)
		return result, err
	}
	span.WithExtra("exit", fmt.Sprint(run.exitCode)).End(run.kind.String())
	emitStage(r.cfg.Progress, StageRun, StatusDone, nil, result.Timings.Duration(StageRun))

	result.Kind = run.kind
	result.Output = run.stdout
	result.Stderr = run.stderr
	result.ExitCode = run.exitCode
	return result, nil
}

// identity names the compiler binary by resolved path and the text it prints
// for --version. It is empty when either cannot be determined.
func (r *Runner) identity(ctx context.Context) string {
	r.identOnce.Do(func() {
		path, err := exec.LookPath(r.cfg.Compiler)
		if err != nil {
			return
		}
		if abs, absErr := filepath.Abs(path); absErr == nil {
			path = abs
		}
		// #nosec G204 -- compiler comes from user configuration
		out, err := exec.CommandContext(ctx, path, "--version").Output()
		if err != nil {
			return
		}
		r.ident = path + "\n" + string(out)
	})
	return r.ident
}

// cacheKey preprocesses the written source so the key covers every header it
// pulls in, wherever the include path finds them. ok is false when there is
// no cache, the compiler cannot be identified, or preprocessing fails.
func (r *Runner) cacheKey(ctx context.Context) (dcache.Key, bool) {
	if r.cfg.Cache == nil {
		return dcache.Key{}, false
	}
	ident := r.identity(ctx)
	if ident == "" {
		return dcache.Key{}, false
	}
	args := make([]string, 0, len(r.cfg.Flags)+2)
	args = append(args, r.cfg.Flags...)
	args = append(args, "-E", r.cfg.SourcePath)
	// #nosec G204 -- compiler and flags come from user configuration
	cmd := exec.CommandContext(ctx, r.cfg.Compiler, args...)
	var unit bytes.Buffer
	cmd.Stdout = &unit
	if err := cmd.Run(); err != nil {
		return dcache.Key{}, false
	}
	return dcache.KeyFor(ident, r.cfg.Flags, unit.Bytes()), true
}

// linkFailure reports whether diagnostics come from the linker, whose result
// depends on libraries outside the translation unit.
func linkFailure(diagnostics string) bool {
	for _, marker := range []string{"undefined reference to", "ld returned", "collect2:", "linker command failed", "ld: library not found"} {
		if strings.Contains(diagnostics, marker) {
			return true
		}
	}
	return false
}

func (r *Runner) compileArgs() []string {
	args := make([]string, 0, len(r.cfg.Flags)+3)
	args = append(args, r.cfg.Flags...)
	args = append(args, r.cfg.SourcePath, "-o", r.cfg.BinaryPath)
	return args
}

// compile returns the compiler's stderr and exit code. A non-nil error means
// the compiler could not be run at all.
func (r *Runner) compile(ctx context.Context) (string, int, error) {
	// #nosec G204 -- compiler and flags come from user configuration
	cmd := exec.CommandContext(ctx, r.cfg.Compiler, r.compileArgs()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stderr.String(), 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", 0, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == 0 {
			// killed by a signal
			code = -1
		}
		return stderr.String(), code, nil
	}
	return "", 0, fmt.Errorf("%w: cannot start compiler %q: %v", ErrToolchain, r.cfg.Compiler, err)
}

type runOutcome struct {
	kind     Kind
	stdout   string
	stderr   string
	exitCode int
}

func (r *Runner) binaryPath() string {
	bin := r.cfg.BinaryPath
	if filepath.IsAbs(bin) {
		return bin
	}
	if abs, err := filepath.Abs(bin); err == nil {
		return abs
	}
	if !strings.ContainsRune(bin, filepath.Separator) {
		return "." + string(filepath.Separator) + bin
	}
	return bin
}

// run executes the binary with no arguments and no stdin, pumping both
// output streams concurrently.
func (r *Runner) run(ctx context.Context) (runOutcome, error) {
	runCtx := ctx
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	// #nosec G204 -- the binary was just produced by the configured compiler
	cmd := exec.CommandContext(runCtx, r.binaryPath())
	killProcessGroup(cmd)
	cmd.WaitDelay = pipeGrace
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return runOutcome{}, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return runOutcome{}, fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return runOutcome{}, fmt.Errorf("%w: cannot start program %q: %v", ErrToolchain, r.cfg.BinaryPath, err)
	}

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, copyErr := io.Copy(teeWriter(&stdout, r.cfg.Stream), stdoutPipe)
		return copyErr
	})
	g.Go(func() error {
		_, copyErr := io.Copy(teeWriter(&stderr, r.cfg.StreamErr), stderrPipe)
		return copyErr
	})
	pumpsDone := make(chan struct{})
	go closeOnOverrun(runCtx, pumpsDone, pipeGrace, stdoutPipe, stderrPipe)
	pumpErr := g.Wait()
	close(pumpsDone)
	waitErr := cmd.Wait()

	out := runOutcome{kind: Compiled, stdout: stdout.String(), stderr: stderr.String()}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.kind = RunTimedOut
		out.exitCode = -1
		return out, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return out, fmt.Errorf("failed to wait for program: %w", waitErr)
		}
		out.exitCode = exitErr.ExitCode()
		return out, nil
	}
	if pumpErr != nil && !errors.Is(pumpErr, os.ErrClosed) {
		return out, fmt.Errorf("failed to read program output: %w", pumpErr)
	}
	return out, nil
}

// closeOnOverrun closes pipes once ctx is done and the pumps have not drained
// them within grace. A descendant that escaped the kill keeps the write ends
// open; this unblocks the readers regardless.
func closeOnOverrun(ctx context.Context, done <-chan struct{}, grace time.Duration, pipes ...io.Closer) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		for _, p := range pipes {
			_ = p.Close()
		}
	}
}

func teeWriter(buf *bytes.Buffer, stream io.Writer) io.Writer {
	if stream == nil {
		return buf
	}
	return io.MultiWriter(buf, stream)
}
