package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dreamd/internal/retrieval"
)

var (
	retSignature string
	retErrorType string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve rules and episodes for a failure signature",
	Long: `Run a hybrid retrieval: verified rules first, similar past episodes
second. The query is a signature vector; --error-type narrows the episode
tier to one failure class.

Examples:
  dreamd retrieve --signature 0.12,0.88
  dreamd retrieve --signature 0.12,0.88 --error-type timeout`,
	RunE: runRetrieve,
}

func init() {
	rootCmd.AddCommand(retrieveCmd)
	retrieveCmd.Flags().StringVar(&retSignature, "signature", "", "comma-separated query vector (required)")
	retrieveCmd.Flags().StringVar(&retErrorType, "error-type", "", "restrict episodes to one failure class")
	_ = retrieveCmd.MarkFlagRequired("signature")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	query, err := parseSignature(retSignature)
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	retriever, err := p.newRetriever()
	if err != nil {
		return err
	}

	bundle, err := retriever.Retrieve(ctx, query, retErrorType)
	if err != nil {
		return err
	}

	out := retrieval.FormatContext(bundle)
	if out == "" {
		fmt.Println("nothing relevant in memory")
		return nil
	}
	fmt.Print(out)
	return nil
}
