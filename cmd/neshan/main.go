package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/1995parham/neshan-go/internal/logging"
)

var (
	// Global flags
	verbose    bool
	apiKey     string
	workspace  string
	configPath string
	timeout    time.Duration
	jsonOutput bool
	noCache    bool

	// Logger
	logger *zap.Logger
)

// newRootCmd builds the command tree. Flags bind to the package globals and
// are reset to their defaults on every call.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "neshan",
		Short: "Command line client for the Neshan maps platform",
		Long: `neshan talks to the Neshan maps platform (https://platform.neshan.org).

It finds routes, reverse geocodes coordinates, searches places, geocodes
addresses and builds distance matrices. Repeated lookups are answered from a
local SQLite cache and every call is accounted for in .neshan/usage.json.

The API key is read from --api-key, NESHAN_API_KEY, NESHAN_RS_API_KEY or
api.api_key in .neshan/config.yaml, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logger
			config := zap.NewProductionConfig()
			if verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			ws, err := resolveWorkspace()
			if err != nil {
				return err
			}
			if err := logging.Initialize(ws, resolveConfigPath(ws)); err != nil {
				logger.Warn("File logging unavailable", zap.Error(err))
			}
			if verbose {
				if err := logging.SetDebugMode(true); err != nil {
					logger.Warn("File logging unavailable", zap.Error(err))
				}
			}
			logging.Boot("neshan %s started in %s", cmd.CommandPath(), ws)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAll()
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&apiKey, "api-key", "", "Neshan API key (or set NESHAN_API_KEY env)")
	flags.StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	flags.StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.neshan/config.yaml)")
	flags.DurationVar(&timeout, "timeout", 0, "Operation timeout (default: api.timeout from config)")
	flags.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	flags.BoolVar(&noCache, "no-cache", false, "Bypass the response cache")

	rootCmd.AddCommand(
		newRouteCmd(),
		newMatrixCmd(),
		newReverseCmd(),
		newBatchReverseCmd(),
		newSearchCmd(),
		newGeocodeCmd(),
		newUsageCmd(),
		newCacheCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}
