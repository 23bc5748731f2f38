package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"crepl/internal/accum"
	"crepl/internal/buildpipeline"
	"crepl/internal/diagfmt"
	"crepl/internal/session"
	"crepl/internal/source"
)

const configFileName = "crepl.toml"

// fileConfig mirrors crepl.toml. Loading starts from defaultConfig, so keys
// absent from the file keep their defaults.
type fileConfig struct {
	Compiler compilerSection `toml:"compiler"`
	Session  sessionSection  `toml:"session"`
	Run      runSection      `toml:"run"`
	REPL     replSection     `toml:"repl"`
	Template templateSection `toml:"template"`
	Cache    cacheSection    `toml:"cache"`
}

type compilerSection struct {
	Command string   `toml:"command"`
	Flags   []string `toml:"flags"`
}

type sessionSection struct {
	Dir      string `toml:"dir"`
	Source   string `toml:"source"`
	Snapshot string `toml:"snapshot"`
	Binary   string `toml:"binary"`
}

type runSection struct {
	Timeout string `toml:"timeout"`
}

type replSection struct {
	Prompt      string `toml:"prompt"`
	Quit        string `toml:"quit"`
	UI          string `toml:"ui"`
	Diagnostics string `toml:"diagnostics"`
}

type templateSection struct {
	Marker   string `toml:"marker"`
	Skeleton string `toml:"skeleton"`
	// SkeletonFile replaces Skeleton with a file's contents. Relative paths
	// are resolved against the config file's directory.
	SkeletonFile string `toml:"skeleton_file,omitempty"`
}

type cacheSection struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Compiler: compilerSection{
			Command: buildpipeline.DefaultCompiler,
			Flags:   buildpipeline.DefaultFlags(),
		},
		Session: sessionSection{
			Dir:      "repl-internals",
			Source:   "repl-content.c",
			Snapshot: "prev-repl-content.c",
			Binary:   "repl",
		},
		Run: runSection{Timeout: buildpipeline.DefaultRunTimeout.String()},
		REPL: replSection{
			Prompt:      "C > ",
			Quit:        ":q",
			UI:          string(uiModeAuto),
			Diagnostics: diagfmt.FormatPretty.String(),
		},
		Template: templateSection{
			Marker:   accum.DefaultMarker,
			Skeleton: accum.DefaultSkeleton,
		},
		Cache: cacheSection{Enabled: true},
	}
}

func findConfigFile(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadConfigFile decodes path over the defaults and validates the result.
func loadConfigFile(path string) (fileConfig, error) {
	cfg := defaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return fileConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fileConfig{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("compiler", "command") && strings.TrimSpace(cfg.Compiler.Command) == "" {
		return fileConfig{}, fmt.Errorf("%s: [compiler].command must not be empty", path)
	}
	if meta.IsDefined("session", "dir") && strings.TrimSpace(cfg.Session.Dir) == "" {
		return fileConfig{}, fmt.Errorf("%s: [session].dir must not be empty", path)
	}
	if file := cfg.Template.SkeletonFile; file != "" {
		if meta.IsDefined("template", "skeleton") {
			return fileConfig{}, fmt.Errorf("%s: set either [template].skeleton or [template].skeleton_file, not both", path)
		}
		if !filepath.IsAbs(file) {
			cfg.Template.SkeletonFile = filepath.Join(filepath.Dir(path), file)
		}
	}
	if err := cfg.validate(); err != nil {
		return fileConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c fileConfig) validate() error {
	if _, err := c.runTimeout(); err != nil {
		return err
	}
	if _, err := readUIMode(c.REPL.UI); err != nil {
		return err
	}
	if _, err := diagfmt.ParseFormat(c.REPL.Diagnostics); err != nil {
		return err
	}
	if c.REPL.Quit == "" {
		return errors.New("[repl].quit must not be empty")
	}
	if _, err := c.template(); err != nil {
		return err
	}
	return nil
}

func (c fileConfig) runTimeout() (time.Duration, error) {
	if strings.TrimSpace(c.Run.Timeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Run.Timeout)
	if err != nil {
		return 0, fmt.Errorf("[run].timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("[run].timeout must not be negative, got %s", d)
	}
	return d, nil
}

func (c fileConfig) template() (*accum.MarkerTemplate, error) {
	skeleton := c.Template.Skeleton
	if c.Template.SkeletonFile != "" {
		doc, err := source.Load(c.Template.SkeletonFile)
		if err != nil {
			return nil, fmt.Errorf("[template].skeleton_file: %w", err)
		}
		skeleton = doc.String()
	}
	return accum.NewMarkerTemplate(skeleton, c.Template.Marker)
}

// sessionPaths resolves bare file names inside [session].dir.
func (c fileConfig) sessionPaths() session.Paths {
	dir := c.Session.Dir
	resolve := func(name, fallback string) string {
		if name == "" {
			name = fallback
		}
		if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
			return name
		}
		return filepath.Join(dir, name)
	}
	def := session.PathsIn(dir)
	return session.Paths{
		Dir:      dir,
		Source:   resolve(c.Session.Source, def.Source),
		Snapshot: resolve(c.Session.Snapshot, def.Snapshot),
		Binary:   resolve(c.Session.Binary, def.Binary),
	}
}

// loadConfig reads --config or the nearest crepl.toml, then applies flag
// overrides. It returns the path the file came from, "" for built-in defaults.
func loadConfig(cmd *cobra.Command) (fileConfig, string, error) {
	flags := cmd.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return fileConfig{}, "", fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		found, ok, findErr := findConfigFile(".")
		if findErr != nil {
			return fileConfig{}, "", findErr
		}
		if ok {
			path = found
		}
	}

	cfg := defaultConfig()
	if path != "" {
		cfg, err = loadConfigFile(path)
		if err != nil {
			return fileConfig{}, "", err
		}
	}
	if err := applyFlagOverrides(cmd, &cfg); err != nil {
		return fileConfig{}, "", err
	}
	if err := cfg.validate(); err != nil {
		return fileConfig{}, "", err
	}
	return cfg, path, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *fileConfig) error {
	flags := cmd.Flags()
	if flags.Changed("cc") {
		cc, err := flags.GetString("cc")
		if err != nil {
			return err
		}
		if strings.TrimSpace(cc) == "" {
			return errors.New("--cc must not be empty")
		}
		cfg.Compiler.Command = cc
	}
	if flags.Changed("timeout") {
		d, err := flags.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Run.Timeout = d.String()
	}
	if flags.Changed("prompt") {
		prompt, err := flags.GetString("prompt")
		if err != nil {
			return err
		}
		cfg.REPL.Prompt = prompt
	}
	if flags.Changed("ui") {
		ui, err := flags.GetString("ui")
		if err != nil {
			return err
		}
		cfg.REPL.UI = ui
	}
	if flags.Changed("diagnostics") {
		format, err := flags.GetString("diagnostics")
		if err != nil {
			return err
		}
		cfg.REPL.Diagnostics = format
	}
	if flags.Changed("no-cache") {
		noCache, err := flags.GetBool("no-cache")
		if err != nil {
			return err
		}
		cfg.Cache.Enabled = !noCache
	}
	return nil
}
