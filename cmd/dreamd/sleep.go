package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sleepCmd = &cobra.Command{
	Use:   "sleep",
	Short: "Run one consolidation pass and exit",
	Long: `Run a single consolidation pass over the journaled episodes: cluster
recurring failures, synthesize and verify candidate rules, and commit the
survivors. Prints a pass summary and any newly committed rules.

Examples:
  # Consolidate now
  dreamd sleep`,
	RunE: runSleep,
}

func init() {
	rootCmd.AddCommand(sleepCmd)
}

func runSleep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	summary, err := p.dreamer.DreamOnce(ctx)
	if err != nil {
		return fmt.Errorf("consolidation pass: %w", err)
	}

	fmt.Printf("episodes selected: %d\n", summary.EpisodesSelected)
	fmt.Printf("clusters found:    %d\n", summary.Clusters)
	fmt.Printf("rules committed:   %d\n", len(summary.Committed))
	fmt.Printf("rejected:          %d\n", summary.Rejected)
	fmt.Printf("skipped:           %d\n", summary.Skipped)
	fmt.Printf("failed:            %d\n", summary.Failed)
	fmt.Printf("duration:          %s\n", summary.Duration.Round(time.Millisecond))

	if len(summary.Committed) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONFIDENCE\tRULE")
	for _, id := range summary.Committed {
		rule, err := p.rules.Get(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", rule.ID, rule.Confidence, rule.Body())
	}
	return w.Flush()
}
