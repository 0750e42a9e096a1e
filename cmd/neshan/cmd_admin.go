package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/1995parham/neshan-go/internal/config"
)

func newUsageCmd() *cobra.Command {
	var (
		recent int
		reset  bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show API usage recorded in this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tracker, err := a.openTracker()
			if err != nil {
				return err
			}
			if reset {
				if err := tracker.Reset(); err != nil {
					return fmt.Errorf("failed to reset usage: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "usage reset")
				return nil
			}

			stats := tracker.Stats()
			events := tracker.RecentEvents(recent)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"path":   tracker.Path(),
					"stats":  stats,
					"recent": events,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderUsage(stats, events))
			return nil
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 10, "Number of recent calls to list")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear recorded usage")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and hit counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.openCache()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"path":   c.Path(),
					"driver": c.Driver(),
					"stats":  stats,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderCacheStats(c.Path(), c.Driver(), stats))
			return nil
		},
	}

	var expiredOnly bool
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.openCache()
			if err != nil {
				return err
			}
			n, err := c.Purge(cmd.Context(), expiredOnly)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"purged": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", n)
			return nil
		},
	}
	purgeCmd.Flags().BoolVar(&expiredOnly, "expired", false, "Only delete entries older than cache.ttl")

	cmd.AddCommand(statsCmd, purgeCmd)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage .neshan/config.yaml",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := resolveWorkspace()
			if err != nil {
				return err
			}
			path := resolveConfigPath(ws)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			// Only an explicit --api-key is written; env keys stay in the env.
			cfg.API.APIKey = apiKey
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			cfg := *a.cfg
			cfg.API.APIKey = maskKey(cfg.API.APIKey)

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

// maskKey keeps the last four characters of an API key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
