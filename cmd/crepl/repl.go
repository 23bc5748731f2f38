package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crepl/internal/accum"
	"crepl/internal/buildpipeline"
	"crepl/internal/dcache"
	"crepl/internal/diagfmt"
	"crepl/internal/repl"
	"crepl/internal/session"
	"crepl/internal/trace"
	"crepl/internal/ui"
)

// replApp holds everything one interactive session needs.
type replApp struct {
	engine  *repl.Engine
	runner  *buildpipeline.Runner
	printer outcomePrinter
	prompt  string
	quit    string
}

type appOptions struct {
	colorOn   bool
	quiet     bool
	timings   bool
	stream    io.Writer
	streamErr io.Writer
}

func newReplApp(ctx context.Context, cfg fileConfig, opts appOptions) (*replApp, error) {
	tmpl, err := cfg.template()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.runTimeout()
	if err != nil {
		return nil, err
	}
	format, err := diagfmt.ParseFormat(cfg.REPL.Diagnostics)
	if err != nil {
		return nil, err
	}
	paths := cfg.sessionPaths()

	runner := buildpipeline.NewRunner(buildpipeline.Config{
		Compiler:   cfg.Compiler.Command,
		Flags:      cfg.Compiler.Flags,
		SourcePath: paths.Source,
		BinaryPath: paths.Binary,
		RunTimeout: timeout,
		Stream:     opts.stream,
		StreamErr:  opts.streamErr,
		Cache:      openCache(ctx, cfg.Cache),
	})
	if err := runner.CheckToolchain(); err != nil {
		return nil, err
	}

	sess, err := session.Open(paths, tmpl)
	if err != nil {
		return nil, err
	}

	return &replApp{
		engine: repl.New(sess, accum.New(tmpl), runner),
		runner: runner,
		printer: outcomePrinter{
			format:   format,
			pretty:   diagfmt.PrettyOpts{Color: opts.colorOn},
			timings:  opts.timings,
			quiet:    opts.quiet,
			streamed: opts.stream != nil,
			timeout:  formatTimeout(cfg.Run.Timeout),
		},
		prompt: cfg.REPL.Prompt,
		quit:   cfg.REPL.Quit,
	}, nil
}

// openCache returns nil when the cache is disabled or unusable; a missing
// cache only costs speed.
func openCache(ctx context.Context, sec cacheSection) *dcache.Cache {
	if !sec.Enabled {
		return nil
	}
	var (
		cache *dcache.Cache
		err   error
	)
	if sec.Dir != "" {
		cache, err = dcache.Open(sec.Dir)
	} else {
		cache, err = dcache.OpenDefault("crepl")
	}
	if err != nil {
		trace.Point(trace.FromContext(ctx), trace.ScopeSession, "dcache.open", err.Error(), 0)
		return nil
	}
	return cache
}

func runRepl(cmd *cobra.Command, _ []string) (err error) {
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	colorFlag, err := cmd.Flags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	colorOn, err := applyColorMode(colorFlag)
	if err != nil {
		return err
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	timings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	mode, err := readUIMode(cfg.REPL.UI)
	if err != nil {
		return err
	}
	useTUI := shouldUseTUI(mode)

	ctx := cmd.Context()
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeSession, "session", 0)
	if cfgPath != "" {
		span.WithExtra("config", cfgPath)
	}
	ctx = trace.WithSpan(ctx, span)

	opts := appOptions{colorOn: colorOn, quiet: quiet, timings: timings}
	if !useTUI {
		opts.stream = cmd.OutOrStdout()
		opts.streamErr = cmd.ErrOrStderr()
	}
	app, err := newReplApp(ctx, cfg, opts)
	if err != nil {
		span.End(err.Error())
		return err
	}
	defer func() {
		// сессия всегда заканчивается сбросом к скелету
		if resetErr := app.engine.Close(); resetErr != nil && err == nil {
			err = resetErr
		}
		span.WithExtra("cycles", fmt.Sprint(app.engine.Cycles())).End("")
	}()

	if !quiet && !useTUI && isTerminal(os.Stdin) {
		color.New(color.Faint).Fprintf(cmd.OutOrStdout(), "crepl: type C statements, %s to quit\n", app.quit)
	}

	if useTUI {
		err = runTUI(ctx, app, cmd.OutOrStdout())
	} else {
		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		err = runLineLoop(ctx, app, cmd.InOrStdin(), cmd.OutOrStdout(), interrupts)
		signal.Stop(interrupts)
	}
	if err != nil {
		dumpTraceRing(cmd, cmd.ErrOrStderr())
	}
	return err
}

type inputLine struct {
	text string
	err  error
}

// readLines feeds lines from in until a read fails or done is closed.
func readLines(in io.Reader, done <-chan struct{}) <-chan inputLine {
	lines := make(chan inputLine)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(in)
		for {
			text, err := reader.ReadString('\n')
			select {
			case lines <- inputLine{text: text, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

// runLineLoop reads one statement per line until the quit sentinel or EOF.
// An interrupt while waiting for input ends the loop like EOF, so the caller
// still resets the session; an interrupt during a cycle discards only that
// statement.
func runLineLoop(ctx context.Context, app *replApp, in io.Reader, out io.Writer, interrupts <-chan os.Signal) error {
	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)
	for {
		if _, err := io.WriteString(out, app.prompt); err != nil {
			return err
		}

		var next inputLine
		select {
		case next = <-lines:
		case <-interrupts:
			_, err := io.WriteString(out, "\n")
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
		line, readErr := next.text, next.err
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("failed to read input: %w", readErr)
		}
		if readErr != nil && line == "" {
			_, err := io.WriteString(out, "\n")
			return err
		}
		if strings.TrimSpace(line) == app.quit {
			return nil
		}

		outcome, err := evalInterruptible(ctx, app, line, interrupts)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				color.New(color.FgYellow).Fprintln(out, "interrupted; statement discarded")
				if readErr != nil {
					return nil
				}
				continue
			}
			return err
		}
		if err := app.printer.print(out, outcome); err != nil {
			return err
		}
		if readErr != nil {
			return nil
		}
	}
}

var errInterrupted = errors.New("interrupted")

// evalInterruptible lets Ctrl+C stop a slow compile or a runaway program
// without ending the session: the candidate is rolled back like a failure.
func evalInterruptible(ctx context.Context, app *replApp, line string, interrupts <-chan os.Signal) (repl.Outcome, error) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-finished:
		}
	}()

	outcome, err := app.engine.Eval(cycleCtx, line)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		if rbErr := app.engine.Session().Rollback(); rbErr != nil {
			return outcome, rbErr
		}
		return outcome, errInterrupted
	}
	return outcome, err
}

func runTUI(ctx context.Context, app *replApp, out io.Writer) error {
	events := make(chan buildpipeline.Event, 64)
	app.runner.SetProgress(buildpipeline.ChannelSink{Ch: events})
	return ui.Run(ctx, ui.Options{
		Prompt: app.prompt,
		Quit:   app.quit,
		Events: events,
		Eval:   app.engine.Eval,
		Render: app.printer.render,
	}, out)
}
