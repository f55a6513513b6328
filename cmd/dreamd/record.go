package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dreamd/internal/episodic"
	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/synthesis"
)

var (
	recTask      string
	recContext   string
	recOutcome   string
	recErrorType string
	recSignature string
	recReflect   bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Journal one task episode",
	Long: `Append one task episode to the episode journal. Failure episodes need
a signature vector; its dimension must match vectorstore.vector_size.

Examples:
  # Record a failure with a 2-dimensional signature
  dreamd record --task "fetch dashboard" --outcome failure \
    --error-type timeout --signature 0.12,0.88

  # Record a success
  dreamd record --task "fetch dashboard" --outcome success`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVar(&recTask, "task", "", "what the attempt was trying to do (required)")
	recordCmd.Flags().StringVar(&recContext, "context", "", "execution context snapshot")
	recordCmd.Flags().StringVar(&recOutcome, "outcome", "", "success or failure (required)")
	recordCmd.Flags().StringVar(&recErrorType, "error-type", "", "symbolic failure class, e.g. timeout")
	recordCmd.Flags().StringVar(&recSignature, "signature", "", "comma-separated signature vector")
	recordCmd.Flags().BoolVar(&recReflect, "reflect", false, "distill a one-line failure insight into the episode context")
	_ = recordCmd.MarkFlagRequired("task")
	_ = recordCmd.MarkFlagRequired("outcome")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	signature, err := parseSignature(recSignature)
	if err != nil {
		return err
	}
	if len(signature) > 0 && len(signature) != cfg.VectorStore.VectorSize {
		return fmt.Errorf("signature has dimension %d, config expects %d", len(signature), cfg.VectorStore.VectorSize)
	}

	ep, err := memory.NewEpisode(recTask, recContext, memory.Outcome(recOutcome), signature)
	if err != nil {
		return err
	}
	ep.ErrorType = recErrorType

	if recReflect && ep.Outcome == memory.OutcomeFailure {
		generator, err := llm.NewClient(llm.ClientConfig{
			BaseURL:           cfg.LLM.BaseURL,
			APIKey:            cfg.LLM.APIKey,
			Model:             cfg.LLM.Model,
			RequestTimeout:    cfg.LLM.RequestTimeout,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		}, nil)
		if err != nil {
			return err
		}
		ep.Context = synthesis.NewReflector(generator, nil).Reflect(cmd.Context(), ep)
	}

	journal, err := episodic.NewJournal(expandPath(cfg.Storage.EpisodesJournal))
	if err != nil {
		return err
	}
	if err := journal.Append(ep); err != nil {
		return err
	}

	fmt.Printf("recorded episode %s\n", ep.ID)
	return nil
}

func parseSignature(s string) ([]float32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parsing signature component %d: %w", i, err)
		}
		vector[i] = float32(v)
	}
	return vector, nil
}
