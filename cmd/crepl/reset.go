package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"crepl/internal/dcache"
	"crepl/internal/session"
)

var resetDropCache bool

func init() {
	resetCmd.Flags().BoolVar(&resetDropCache, "cache", false, "also forget cached compile failures")
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the session files to the skeleton and remove the binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tmpl, err := cfg.template()
		if err != nil {
			return err
		}
		// Open resets as part of opening
		sess, err := session.Open(cfg.sessionPaths(), tmpl)
		if err != nil {
			return err
		}
		quiet, err := cmd.Flags().GetBool("quiet")
		if err != nil {
			return fmt.Errorf("failed to get quiet flag: %w", err)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", sess.Paths().Dir)
		}

		if !resetDropCache {
			return nil
		}
		var cache *dcache.Cache
		if cfg.Cache.Dir != "" {
			cache, err = dcache.Open(cfg.Cache.Dir)
		} else {
			cache, err = dcache.OpenDefault("crepl")
		}
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		if err := cache.DropAll(); err != nil {
			return fmt.Errorf("failed to drop cache: %w", err)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "dropped cache %s\n", cache.Dir())
		}
		return nil
	},
}
