// Dreamd is a memory-consolidation daemon for autonomous agents.
//
// It records task episodes, periodically clusters recurring failures,
// distills them into candidate rules with a text-generation collaborator,
// verifies each candidate against counterfactual scenarios in a sandbox,
// and commits the survivors as durable rules. Retrieval serves rules
// first, raw episodes second.
//
// Usage:
//
//	dreamd serve                 # run the daemon with scheduled passes
//	dreamd sleep                 # run one consolidation pass and exit
//	dreamd record --task ...     # journal one episode
//	dreamd rules                 # list committed rules
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "dreamd",
	Short:   "Memory consolidation daemon for autonomous agents",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/dreamd/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
