package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"crepl/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "crepl",
	Short: "Interactive C read-eval-print loop",
	Long: `crepl accumulates C statements into the body of main(), recompiles the
file after every statement and runs the result. Statements that fail to
compile are discarded; #include and #define lines go to the top of the file.
Type :q to leave.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRepl,
}

// main registers subcommands and persistent flags, then executes the root
// command. Any error ends the process with status 1.
func main() {
	// Устанавливаем версию для автоматического флага --version
	rootCmd.Version = version.Current()

	// Добавляем команды
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(configCmd)

	// Глобальные флаги
	registerFlags(rootCmd.PersistentFlags())

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("error:", err)
		os.Exit(1)
	}
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func registerFlags(pf *pflag.FlagSet) {
	pf.String("config", "", "path to crepl.toml (default: search upward from the working directory)")
	pf.String("cc", "", "C compiler command")
	pf.Duration("timeout", 0, "kill a program after this long (0 disables the limit)")
	pf.String("prompt", "", "input prompt")
	pf.String("ui", "", "interactive UI (auto|on|off)")
	pf.String("diagnostics", "", "diagnostics format (pretty|json)")
	pf.Bool("no-cache", false, "do not reuse diagnostics of previously failed sources")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("quiet", false, "suppress non-essential output")
	pf.Bool("timings", false, "show timing information after every statement")

	pf.String("trace", "", "write trace events to file (- for stderr)")
	pf.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	pf.String("trace-mode", "ring", "trace storage (stream|ring|both)")
	pf.Int("trace-ring-size", 4096, "events kept in the trace ring buffer")
	pf.Duration("trace-heartbeat", 0, "emit heartbeat trace events at this interval (0 disables)")

	pf.String("cpu-profile", "", "write a CPU profile of crepl itself to file")
	pf.String("mem-profile", "", "write a heap profile to file on exit")
	pf.String("runtime-trace", "", "write a Go runtime trace to file")
}
