package buildpipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crepl/internal/dcache"
	"crepl/internal/source"
)

// fakeCompiler stands in for gcc. It preprocesses by concatenating h.h (when
// present next to the source) with the source, fails on BAD in either, fails
// when an included h.h is missing, and otherwise writes a shell script as the
// "binary". Only real compiles are counted in calls.
const fakeCompiler = `#!/bin/sh
src=""
out=""
pre=""
while [ $# -gt 0 ]; do
	case "$1" in
	--version) echo "fakecc 1.0"; exit 0 ;;
	-E) pre=1; shift ;;
	-o) out="$2"; shift 2 ;;
	-*) shift ;;
	*) src="$1"; shift ;;
	esac
done
hdr="$(dirname "$src")/h.h"
if grep -q 'include "h.h"' "$src" && [ ! -f "$hdr" ]; then
	echo "$src:1:10: fatal error: h.h: No such file or directory" >&2
	exit 1
fi
if [ -n "$pre" ]; then
	if [ -f "$hdr" ]; then cat "$hdr"; fi
	cat "$src"
	exit 0
fi
echo call >> "$(dirname "$0")/calls"
if grep -q BAD "$src" || { [ -f "$hdr" ] && grep -q BAD "$hdr"; }; then
	echo "$src:2:5: error: 'BAD' undeclared" >&2
	echo "    2 |     BAD;" >&2
	echo "      |     ^" >&2
	exit 1
fi
if grep -q LOOP "$src"; then
	printf '#!/bin/sh\nexec sleep 5\n' > "$out"
elif grep -q CHILD "$src"; then
	printf '#!/bin/sh\nsleep 8\necho done\n' > "$out"
elif grep -q EXIT3 "$src"; then
	printf '#!/bin/sh\necho partial\nexit 3\n' > "$out"
else
	printf '#!/bin/sh\necho hello\necho oops >&2\n' > "$out"
fi
chmod +x "$out"
`

type fixture struct {
	dir      string
	compiler string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	compiler := filepath.Join(dir, "fakecc")
	if err := os.WriteFile(compiler, []byte(fakeCompiler), 0o700); err != nil {
		t.Fatalf("write fake compiler: %v", err)
	}
	return fixture{dir: dir, compiler: compiler}
}

func (f fixture) config() Config {
	return Config{
		Compiler:   f.compiler,
		SourcePath: filepath.Join(f.dir, "repl-content.c"),
		BinaryPath: filepath.Join(f.dir, "repl"),
		RunTimeout: 5 * time.Second,
	}
}

func (f fixture) calls(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, "calls"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read calls: %v", err)
	}
	return strings.Count(string(data), "call\n")
}

func TestBuildCompiledCapturesOutput(t *testing.T) {
	f := newFixture(t)
	var streamed bytes.Buffer
	cfg := f.config()
	cfg.Stream = &streamed
	var events []Event
	cfg.Progress = FuncSink(func(ev Event) { events = append(events, ev) })

	res, err := NewRunner(cfg).Build(context.Background(), source.Document{"int main(void) {", "}"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Kind != Compiled {
		t.Fatalf("Kind = %v, want compiled (diagnostics %q)", res.Kind, res.Diagnostics)
	}
	if res.Output != "hello\n" {
		t.Fatalf("Output = %q", res.Output)
	}
	if res.Stderr != "oops\n" {
		t.Fatalf("Stderr = %q", res.Stderr)
	}
	if streamed.String() != "hello\n" {
		t.Fatalf("streamed = %q", streamed.String())
	}
	if !res.Timings.Has(StageCompile) || !res.Timings.Has(StageRun) {
		t.Fatalf("missing timings")
	}
	if len(events) == 0 || events[len(events)-1].Stage != StageRun || events[len(events)-1].Status != StatusDone {
		t.Fatalf("unexpected progress events: %+v", events)
	}
	written, err := os.ReadFile(cfg.SourcePath)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(written) != "int main(void) {\n}" {
		t.Fatalf("source on disk = %q", written)
	}
}

func TestBuildCompileFailed(t *testing.T) {
	f := newFixture(t)
	res, err := NewRunner(f.config()).Build(context.Background(), source.Document{"BAD;"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Kind != CompileFailed || !res.Failed() {
		t.Fatalf("Kind = %v, want compile-failed", res.Kind)
	}
	if !strings.Contains(res.Diagnostics, "error: 'BAD' undeclared") {
		t.Fatalf("Diagnostics = %q", res.Diagnostics)
	}
	if res.ExitCode != 1 {
		t.Fatalf("ExitCode = %d", res.ExitCode)
	}
}

func TestBuildNonZeroProgramExitStillCompiled(t *testing.T) {
	f := newFixture(t)
	res, err := NewRunner(f.config()).Build(context.Background(), source.Document{"EXIT3"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Kind != Compiled || res.ExitCode != 3 || res.Output != "partial\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestBuildRunTimeout(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.RunTimeout = 200 * time.Millisecond
	start := time.Now()
	res, err := NewRunner(cfg).Build(context.Background(), source.Document{"LOOP"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Kind != RunTimedOut || !res.Failed() {
		t.Fatalf("Kind = %v, want run-timed-out", res.Kind)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("runaway program was not killed in time: %v", elapsed)
	}
}

func TestBuildRunTimeoutKillsChildProcesses(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.RunTimeout = 300 * time.Millisecond
	start := time.Now()
	res, err := NewRunner(cfg).Build(context.Background(), source.Document{"CHILD"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Kind != RunTimedOut {
		t.Fatalf("Kind = %v, want run-timed-out", res.Kind)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("a child of the program held the run open for %v", elapsed)
	}
	if strings.Contains(res.Output, "done") {
		t.Fatalf("program kept running after the timeout: %q", res.Output)
	}
}

func TestCloseOnOverrunUnblocksReaders(t *testing.T) {
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	defer close(done)
	go closeOnOverrun(ctx, done, 10*time.Millisecond, pr)

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, pr)
		copied <- err
	}()
	select {
	case err := <-copied:
		if err != nil && !errors.Is(err, os.ErrClosed) {
			t.Fatalf("io.Copy: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reader still blocked with the write end open")
	}
}

func TestBuildMissingCompilerIsToolchainError(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(Config{
		Compiler:   filepath.Join(dir, "no-such-cc"),
		SourcePath: filepath.Join(dir, "src.c"),
		BinaryPath: filepath.Join(dir, "bin"),
	})
	if err := r.CheckToolchain(); !errors.Is(err, ErrToolchain) {
		t.Fatalf("CheckToolchain = %v, want ErrToolchain", err)
	}
	_, err := r.Build(context.Background(), source.Document{"int x;"})
	if !errors.Is(err, ErrToolchain) {
		t.Fatalf("Build error = %v, want ErrToolchain", err)
	}
}

func TestBuildUnwritableSourceIsFatal(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.SourcePath = filepath.Join(f.dir, "missing-dir", "src.c")
	if _, err := NewRunner(cfg).Build(context.Background(), source.Document{"x"}); err == nil {
		t.Fatalf("expected write error")
	}
	if f.calls(t) != 0 {
		t.Fatalf("compiler must not run when the source cannot be written")
	}
}

func TestBuildServesRepeatedFailureFromCache(t *testing.T) {
	f := newFixture(t)
	cache, err := dcache.Open(filepath.Join(f.dir, "cache"))
	if err != nil {
		t.Fatalf("dcache.Open: %v", err)
	}
	cfg := f.config()
	cfg.Cache = cache
	r := NewRunner(cfg)
	doc := source.Document{"BAD;"}

	first, err := r.Build(context.Background(), doc)
	if err != nil {
		t.Fatalf("Build #1: %v", err)
	}
	second, err := r.Build(context.Background(), doc)
	if err != nil {
		t.Fatalf("Build #2: %v", err)
	}
	if first.Cached || !second.Cached {
		t.Fatalf("Cached flags = %v, %v", first.Cached, second.Cached)
	}
	if second.Kind != CompileFailed || second.Diagnostics != first.Diagnostics {
		t.Fatalf("cached result differs: %+v vs %+v", second, first)
	}
	if got := f.calls(t); got != 1 {
		t.Fatalf("compiler called %d times, want 1", got)
	}
}

func TestBuildCacheNoticesHeaderChanges(t *testing.T) {
	f := newFixture(t)
	cache, err := dcache.Open(filepath.Join(f.dir, "cache"))
	if err != nil {
		t.Fatalf("dcache.Open: %v", err)
	}
	cfg := f.config()
	cfg.Cache = cache
	r := NewRunner(cfg)
	doc := source.Document{`#include "h.h"`, "int main(void) {", "}"}
	header := filepath.Join(f.dir, "h.h")
	writeHeader := func(body string) {
		t.Helper()
		if err := os.WriteFile(header, []byte(body), 0o600); err != nil {
			t.Fatalf("write header: %v", err)
		}
	}
	build := func(step string, want Kind, wantCached bool) {
		t.Helper()
		res, err := r.Build(context.Background(), doc)
		if err != nil {
			t.Fatalf("%s: Build: %v", step, err)
		}
		if res.Kind != want || res.Cached != wantCached {
			t.Fatalf("%s: Kind = %v cached = %v, want %v cached = %v", step, res.Kind, res.Cached, want, wantCached)
		}
	}

	build("missing header", CompileFailed, false)
	writeHeader("int ok;\n")
	build("header created", Compiled, false)
	writeHeader("BAD;\n")
	build("header broken", CompileFailed, false)
	build("header still broken", CompileFailed, true)
	writeHeader("int fixed;\n")
	build("header fixed", Compiled, false)
}

func TestBuildCacheKeyedOnCompilerBinary(t *testing.T) {
	f := newFixture(t)
	cache, err := dcache.Open(filepath.Join(f.dir, "cache"))
	if err != nil {
		t.Fatalf("dcache.Open: %v", err)
	}
	other := filepath.Join(f.dir, "othercc")
	if err := os.WriteFile(other, []byte(fakeCompiler), 0o700); err != nil {
		t.Fatalf("write second compiler: %v", err)
	}
	doc := source.Document{"BAD;"}

	cfg := f.config()
	cfg.Cache = cache
	if _, err := NewRunner(cfg).Build(context.Background(), doc); err != nil {
		t.Fatalf("Build with fakecc: %v", err)
	}
	cfg.Compiler = other
	res, err := NewRunner(cfg).Build(context.Background(), doc)
	if err != nil {
		t.Fatalf("Build with othercc: %v", err)
	}
	if res.Cached {
		t.Fatalf("failure recorded for one compiler was served for another")
	}
}

func TestLinkFailure(t *testing.T) {
	cases := map[string]bool{
		"repl-content.c:3:5: error: 'x' undeclared": false,
		"/usr/bin/ld: /tmp/cc.o: in function `main':\nundefined reference to `sqrt'\ncollect2: error: ld returned 1 exit status": true,
		"clang: error: linker command failed with exit code 1": true,
	}
	for diagnostics, want := range cases {
		if got := linkFailure(diagnostics); got != want {
			t.Fatalf("linkFailure(%q) = %v, want %v", diagnostics, got, want)
		}
	}
}

func TestNewRunnerDefaults(t *testing.T) {
	cfg := NewRunner(Config{}).Config()
	if cfg.Compiler != DefaultCompiler {
		t.Fatalf("Compiler = %q", cfg.Compiler)
	}
	if len(cfg.Flags) != 1 || cfg.Flags[0] != "-Werror=implicit-function-declaration" {
		t.Fatalf("Flags = %q", cfg.Flags)
	}
}

func TestTimingsSum(t *testing.T) {
	var tm Timings
	tm.Set(StageCompile, 2*time.Millisecond)
	tm.Set(StageRun, 3*time.Millisecond)
	if got := tm.Sum(StageCompile, StageRun, StageWrite); got != 5*time.Millisecond {
		t.Fatalf("Sum = %v", got)
	}
}
