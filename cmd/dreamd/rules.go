package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/semantic"
)

var (
	rulesJSON       bool
	rulesActiveOnly bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List committed rules",
	Long: `List the rules in the rule journal, in commit order.

Examples:
  # Human-readable table
  dreamd rules

  # Only rules no newer rule supersedes
  dreamd rules --active

  # Full records as JSON
  dreamd rules --json`,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "output full records as JSON")
	rulesCmd.Flags().BoolVar(&rulesActiveOnly, "active", false, "hide superseded rules")
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	journal, err := semantic.NewJournal(expandPath(cfg.Storage.RulesJournal))
	if err != nil {
		return err
	}
	journaled, err := journal.Replay()
	if err != nil {
		return err
	}

	store := semantic.New(nil, nil)
	if err := store.Restore(journaled); err != nil {
		return err
	}

	var rules []*memory.Rule
	if rulesActiveOnly {
		rules, err = store.Active(cmd.Context())
	} else {
		rules, err = store.List(cmd.Context())
	}
	if err != nil {
		return err
	}

	if rulesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}

	if len(rules) == 0 {
		fmt.Println("no rules committed yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONFIDENCE\tEPISODES\tCOMMITTED\tRULE")
	for _, rule := range rules {
		fmt.Fprintf(w, "%s\t%.2f\t%d\t%s\t%s\n",
			rule.ID,
			rule.Confidence,
			len(rule.Provenance),
			rule.CreatedAt.Format("2006-01-02 15:04"),
			rule.Body(),
		)
	}
	return w.Flush()
}
