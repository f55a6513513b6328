package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/cluster"
	"github.com/fyrsmithlabs/dreamd/internal/config"
	"github.com/fyrsmithlabs/dreamd/internal/dreamer"
	"github.com/fyrsmithlabs/dreamd/internal/episodic"
	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/logging"
	"github.com/fyrsmithlabs/dreamd/internal/retrieval"
	"github.com/fyrsmithlabs/dreamd/internal/sandbox"
	"github.com/fyrsmithlabs/dreamd/internal/semantic"
	"github.com/fyrsmithlabs/dreamd/internal/synthesis"
	"github.com/fyrsmithlabs/dreamd/internal/vectorstore"
	"github.com/fyrsmithlabs/dreamd/internal/verify"
)

// pipeline bundles the wired components a command needs.
type pipeline struct {
	cfg      *config.Config
	logger   *zap.Logger
	vectors  vectorstore.Store
	episodes *episodic.Store
	rules    *semantic.Store
	dreamer  *dreamer.Dreamer
}

// setup loads config and builds the logger. Shared by all commands.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// buildPipeline wires the full consolidation pipeline: vector store,
// both memory tiers replayed from their journals, collaborators, and the
// orchestrator.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	vectors, err := vectorstore.NewStore(vectorstore.Config{
		Backend:    cfg.VectorStore.Provider,
		VectorSize: cfg.VectorStore.VectorSize,
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.VectorStore.Chromem.Path,
			Compress: cfg.VectorStore.Chromem.Compress,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:   cfg.VectorStore.Qdrant.Host,
			Port:   cfg.VectorStore.Qdrant.Port,
			UseTLS: cfg.VectorStore.Qdrant.UseTLS,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	episodeJournal, err := episodic.NewJournal(expandPath(cfg.Storage.EpisodesJournal))
	if err != nil {
		return nil, fmt.Errorf("opening episode journal: %w", err)
	}
	episodes := episodic.New(vectors, logger.Named("episodic"))
	replayed, err := episodeJournal.Replay(ctx, episodes)
	if err != nil {
		return nil, fmt.Errorf("replaying episode journal: %w", err)
	}

	ruleJournal, err := semantic.NewJournal(expandPath(cfg.Storage.RulesJournal))
	if err != nil {
		return nil, fmt.Errorf("opening rule journal: %w", err)
	}
	rules := semantic.New(vectors, logger.Named("semantic"), semantic.WithJournal(ruleJournal))
	journaled, err := ruleJournal.Replay()
	if err != nil {
		return nil, fmt.Errorf("replaying rule journal: %w", err)
	}
	if err := rules.Restore(journaled); err != nil {
		return nil, fmt.Errorf("restoring rules: %w", err)
	}

	logger.Info("memory tiers restored",
		zap.Int("episodes", replayed),
		zap.Int("rules", len(journaled)),
	)

	generator, err := llm.NewClient(llm.ClientConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		RequestTimeout:    cfg.LLM.RequestTimeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}

	executor := sandbox.NewCommandExecutor(sandbox.CommandConfig{
		Command: cfg.Sandbox.Command,
		Timeout: cfg.Sandbox.Timeout,
		Dir:     cfg.Sandbox.Dir,
	}, logger.Named("sandbox"))

	synthesizer := synthesis.New(generator, synthesis.Config{
		MaxRetries: cfg.Consolidation.MaxRetries,
	}, logger.Named("synthesis"))

	verifier, err := verify.New(generator, executor, verify.Config{
		Scenarios:       cfg.Consolidation.Scenarios,
		AcceptThreshold: cfg.Consolidation.AcceptThreshold,
		MaxRetries:      cfg.Consolidation.MaxRetries,
	}, logger.Named("verify"))
	if err != nil {
		return nil, fmt.Errorf("creating verifier: %w", err)
	}

	d, err := dreamer.New(
		episodes,
		rules,
		cluster.New(logger.Named("cluster")),
		synthesizer,
		verifier,
		dreamer.Config{
			Eps:         cfg.Consolidation.Eps,
			MinPts:      cfg.Consolidation.MinPts,
			BatchLimit:  cfg.Consolidation.BatchLimit,
			Concurrency: cfg.Consolidation.Concurrency,
		},
		logger.Named("dreamer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dreamer: %w", err)
	}

	return &pipeline{
		cfg:      cfg,
		logger:   logger,
		vectors:  vectors,
		episodes: episodes,
		rules:    rules,
		dreamer:  d,
	}, nil
}

// newRetriever wires the hybrid retriever over an existing pipeline.
func (p *pipeline) newRetriever() (*retrieval.Retriever, error) {
	return retrieval.New(p.vectors, p.rules, retrieval.Config{
		RuleK:    p.cfg.Retrieval.RuleK,
		EpisodeK: p.cfg.Retrieval.EpisodeK,
	}, p.logger.Named("retrieval"))
}

func (p *pipeline) close() {
	if err := p.vectors.Close(); err != nil {
		p.logger.Warn("closing vector store", zap.Error(err))
	}
	_ = logging.Sync(p.logger)
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
