package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	latest "github.com/tcnksm/go-latest"

	"crepl/internal/version"
)

type versionInfo struct {
	Version    string
	GitCommit  string
	GitMessage string
	BuildDate  string
}

type versionOptions struct {
	format      string
	showHash    bool
	showMessage bool
	showDate    bool
}

type versionPayload struct {
	Tool       string        `json:"tool"`
	Version    string        `json:"version"`
	GitCommit  string        `json:"git_commit,omitempty"`
	GitMessage string        `json:"git_message,omitempty"`
	BuildDate  string        `json:"build_date,omitempty"`
	Update     *updateStatus `json:"update,omitempty"`
}

type updateStatus struct {
	Latest   string `json:"latest"`
	Outdated bool   `json:"outdated"`
}

var (
	versionFormat      string
	versionShowHash    bool
	versionShowMessage bool
	versionShowDate    bool
	versionShowFull    bool
	versionCheck       bool
	versionRepo        string
)

func init() {
	versionCmd.Flags().BoolVar(&versionShowHash, "hash", false, "include git commit hash")
	versionCmd.Flags().BoolVar(&versionShowMessage, "message", false, "include git commit message")
	versionCmd.Flags().BoolVar(&versionShowDate, "date", false, "include build timestamp")
	versionCmd.Flags().BoolVar(&versionShowFull, "full", false, "show every recorded bit of build metadata")
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "compare with the newest tag on GitHub")
	versionCmd.Flags().StringVar(&versionRepo, "repo", version.Repository, "GitHub repository (owner/name) used by --check")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show crepl build fingerprints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := versionOptions{
			format:      strings.ToLower(versionFormat),
			showHash:    versionShowHash || versionShowFull,
			showMessage: versionShowMessage || versionShowFull,
			showDate:    versionShowDate || versionShowFull,
		}
		switch opts.format {
		case "pretty", "json":
			// supported
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}

		info := collectVersionInfo()
		var update *updateStatus
		if versionCheck {
			src, err := githubSource(versionRepo)
			if err != nil {
				return err
			}
			update, err = checkLatest(src, info.Version)
			if err != nil {
				return err
			}
		}

		if opts.format == "json" {
			return renderVersionJSON(cmd.OutOrStdout(), info, opts, update)
		}
		renderVersionPretty(cmd.OutOrStdout(), info, opts, update)
		return nil
	},
}

func collectVersionInfo() versionInfo {
	return versionInfo{
		Version:    version.Current(),
		GitCommit:  strings.TrimSpace(version.GitCommit),
		GitMessage: strings.TrimSpace(version.GitMessage),
		BuildDate:  strings.TrimSpace(version.BuildDate),
	}
}

func githubSource(repo string) (*latest.GithubTag, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid repository %q (expected owner/name)", repo)
	}
	return &latest.GithubTag{Owner: owner, Repository: name}, nil
}

func checkLatest(src latest.Source, current string) (*updateStatus, error) {
	res, err := latest.Check(src, strings.TrimPrefix(current, "v"))
	if err != nil {
		return nil, fmt.Errorf("version check failed: %w", err)
	}
	return &updateStatus{Latest: res.Current, Outdated: res.Outdated}, nil
}

func renderVersionPretty(out io.Writer, info versionInfo, opts versionOptions, update *updateStatus) {
	v := info.Version
	if v == version.Current() {
		v = version.Colored()
	}
	fmt.Fprintf(out, "crepl %s\n", v)
	if opts.showHash {
		fmt.Fprintf(out, "commit:  %s\n", valueOrUnknown(info.GitCommit))
	}
	if opts.showMessage {
		fmt.Fprintf(out, "message: %s\n", valueOrUnknown(info.GitMessage))
	}
	if opts.showDate {
		fmt.Fprintf(out, "built:   %s\n", valueOrUnknown(info.BuildDate))
	}
	if update != nil {
		if update.Outdated {
			fmt.Fprintf(out, "a newer version is available: %s\n", update.Latest)
		} else {
			fmt.Fprintln(out, "up to date")
		}
	}
}

func renderVersionJSON(out io.Writer, info versionInfo, opts versionOptions, update *updateStatus) error {
	payload := versionPayload{
		Tool:    "crepl",
		Version: info.Version,
		Update:  update,
	}
	if opts.showHash {
		payload.GitCommit = valueOrUnknown(info.GitCommit)
	}
	if opts.showMessage {
		payload.GitMessage = valueOrUnknown(info.GitMessage)
	}
	if opts.showDate {
		payload.BuildDate = valueOrUnknown(info.BuildDate)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
