// Package dreamer orchestrates offline memory consolidation: it selects
// unconsolidated failure episodes, clusters them by failure signature,
// synthesizes one candidate rule per cluster, verifies each candidate in
// a sandbox, and commits the survivors to the semantic store.
//
// At most one consolidation pass runs at a time. Passes are triggered
// explicitly or on a schedule; a trigger arriving while a pass runs is
// queued (at most one deep) rather than starting a concurrent pass.
package dreamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/cluster"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/synthesis"
	"github.com/fyrsmithlabs/dreamd/internal/verify"
)

const (
	defaultEps         = 0.3
	defaultMinPts      = 2
	defaultBatchLimit  = 200
	defaultConcurrency = 2
	defaultAcquireWait = 100 * time.Millisecond
)

// RuleStore is the semantic store surface the orchestrator needs:
// serialized commits plus the provenance index used to exclude episodes
// already covered by a committed rule.
type RuleStore interface {
	memory.RuleSink
	CoveredEpisodes() map[string]bool
}

// Config configures the consolidation pass.
type Config struct {
	// Eps is the clustering neighborhood radius.
	Eps float64

	// MinPts is the minimum cluster density.
	MinPts int

	// BatchLimit caps episodes selected per pass.
	BatchLimit int

	// Concurrency bounds the synthesize-and-verify workers. Commits stay
	// serialized regardless.
	Concurrency int

	// AcquireWait bounds how long an explicit pass waits for a running
	// pass to finish before giving up.
	AcquireWait time.Duration
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Eps == 0 {
		c.Eps = defaultEps
	}
	if c.MinPts == 0 {
		c.MinPts = defaultMinPts
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = defaultBatchLimit
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.AcquireWait == 0 {
		c.AcquireWait = defaultAcquireWait
	}
}

// PassSummary reports what one consolidation pass did.
type PassSummary struct {
	// EpisodesSelected is the size of the failure batch.
	EpisodesSelected int

	// Clusters is the number of density-connected clusters found.
	Clusters int

	// Skipped counts clusters that yielded no candidate.
	Skipped int

	// Rejected counts candidates that failed verification.
	Rejected int

	// Failed counts clusters whose unit errored. The failure is contained
	// to the cluster and logged; it never aborts the pass.
	Failed int

	// Cancelled counts clusters abandoned because the pass was canceled.
	Cancelled int

	// Committed lists the IDs of rules committed this pass.
	Committed []string

	// Duration is the pass wall-clock time.
	Duration time.Duration
}

// Dreamer runs consolidation passes.
type Dreamer struct {
	episodes    memory.EpisodeSource
	rules       RuleStore
	clusterer   *cluster.Clusterer
	synthesizer *synthesis.Synthesizer
	verifier    *verify.Verifier

	config  Config
	lease   *lease
	pending chan struct{}
	logger  *zap.Logger
}

// New creates a Dreamer.
func New(
	episodes memory.EpisodeSource,
	rules RuleStore,
	clusterer *cluster.Clusterer,
	synthesizer *synthesis.Synthesizer,
	verifier *verify.Verifier,
	config Config,
	logger *zap.Logger,
) (*Dreamer, error) {
	if episodes == nil || rules == nil || clusterer == nil || synthesizer == nil || verifier == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if config.Eps <= 0 || config.MinPts < 1 {
		return nil, fmt.Errorf("invalid clustering parameters: eps=%f minPts=%d", config.Eps, config.MinPts)
	}

	return &Dreamer{
		episodes:    episodes,
		rules:       rules,
		clusterer:   clusterer,
		synthesizer: synthesizer,
		verifier:    verifier,
		config:      config,
		lease:       newLease(config.AcquireWait),
		pending:     make(chan struct{}, 1),
		logger:      logger,
	}, nil
}

// DreamOnce runs a single consolidation pass. If another pass is active
// it waits briefly for the lease and then fails with ErrPassActive. A
// canceled context aborts the pass between units of work; rules already
// committed stay committed. A failing cluster never fails the pass: the
// error is logged and counted in the summary, and the pass completes.
func (d *Dreamer) DreamOnce(ctx context.Context) (*PassSummary, error) {
	if err := d.lease.Acquire(ctx); err != nil {
		if err == ErrPassActive {
			passesTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	defer d.lease.Release()

	summary, err := d.pass(ctx)
	if err != nil {
		passesTotal.WithLabelValues("aborted").Inc()
		return summary, err
	}
	passesTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// Trigger requests a consolidation pass from the Run loop. At most one
// trigger is held pending; further triggers while one is queued are
// dropped.
func (d *Dreamer) Trigger() {
	select {
	case d.pending <- struct{}{}:
	default:
		triggersDroppedTotal.Inc()
		d.logger.Debug("consolidation trigger dropped, one already pending")
	}
}

// Run serves triggers until the context is canceled. Pass failures are
// logged, not fatal: the loop keeps serving subsequent triggers.
func (d *Dreamer) Run(ctx context.Context) error {
	d.logger.Info("consolidation loop started")
	defer d.logger.Info("consolidation loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.pending:
			summary, err := d.DreamOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Error("consolidation pass failed", zap.Error(err))
				continue
			}
			d.logger.Info("consolidation pass completed",
				zap.Int("episodes", summary.EpisodesSelected),
				zap.Int("clusters", summary.Clusters),
				zap.Int("committed", len(summary.Committed)),
				zap.Int("rejected", summary.Rejected),
				zap.Int("skipped", summary.Skipped),
				zap.Int("failed", summary.Failed),
				zap.Duration("duration", summary.Duration),
			)
		}
	}
}

// clusterResult is the outcome of one per-cluster unit of work.
type clusterResult struct {
	committedID string
	rejected    bool
	skipped     bool
	reason      string
	err         error
}

// pass runs the consolidation state machine: select, cluster, then one
// synthesize-verify-commit unit per cluster. Units run concurrently up
// to the configured bound; the semantic store serializes the commits.
func (d *Dreamer) pass(ctx context.Context) (*PassSummary, error) {
	start := time.Now()
	summary := &PassSummary{}
	defer func() {
		summary.Duration = time.Since(start)
		passDuration.Observe(summary.Duration.Seconds())
	}()

	// Selection sees a snapshot: episodes recorded after this point are
	// left for the next pass. Episodes already cited by a committed rule
	// are excluded so each failure is consolidated at most once.
	batch, err := d.episodes.QueryFailures(ctx, memory.FailureFilter{
		Limit:   d.config.BatchLimit,
		Exclude: d.rules.CoveredEpisodes(),
	})
	if err != nil {
		return summary, fmt.Errorf("selecting failure batch: %w", err)
	}
	summary.EpisodesSelected = len(batch)

	clusters := d.clusterer.Cluster(batch, d.config.Eps, d.config.MinPts)
	summary.Clusters = len(clusters)
	clustersPerPass.Observe(float64(len(clusters)))
	if len(clusters) == 0 {
		d.logger.Debug("no dense failure clusters, nothing to consolidate",
			zap.Int("episodes", len(batch)))
		return summary, nil
	}

	// One unit per cluster, concurrently up to the bound. Cancellation is
	// honored between units: a unit checks the context before starting,
	// and a started unit finishes its current scenario work and bails.
	// Rules committed by earlier units stay committed.
	results := make([]clusterResult, len(clusters))
	var mu sync.Mutex
	workers := pool.New().WithMaxGoroutines(d.config.Concurrency)
	for i := range clusters {
		i := i
		workers.Go(func() {
			var res clusterResult
			if err := ctx.Err(); err != nil {
				res = clusterResult{err: err}
			} else {
				res = d.processCluster(ctx, &clusters[i])
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
		})
	}
	workers.Wait()

	for i, res := range results {
		switch {
		case res.err != nil:
			// Errors are contained to the failing cluster: its episodes
			// stay unconsolidated for a later pass, the siblings' results
			// stand. Only cancellation reaches the pass caller.
			if ctx.Err() != nil && errors.Is(res.err, ctx.Err()) {
				summary.Cancelled++
				continue
			}
			summary.Failed++
			clustersFailedTotal.Inc()
			d.logger.Error("cluster consolidation failed",
				zap.Int("cluster", clusters[i].ID),
				zap.Strings("episodes", clusters[i].MemberIDs()),
				zap.Error(res.err),
			)
		case res.skipped:
			summary.Skipped++
			candidatesRejectedTotal.WithLabelValues("synthesis").Inc()
		case res.rejected:
			summary.Rejected++
			candidatesRejectedTotal.WithLabelValues("verification").Inc()
			d.logger.Info("candidate rejected",
				zap.Int("cluster", clusters[i].ID),
				zap.String("reason", res.reason),
			)
		default:
			summary.Committed = append(summary.Committed, res.committedID)
			rulesCommittedTotal.Inc()
		}
	}

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// processCluster runs one synthesize-verify-commit unit.
func (d *Dreamer) processCluster(ctx context.Context, c *cluster.Cluster) clusterResult {
	candidate, err := d.synthesizer.Synthesize(ctx, c)
	if err != nil {
		return clusterResult{err: err}
	}
	if candidate == nil {
		// Malformed output or exhausted retries; leave the episodes for a
		// later pass.
		return clusterResult{skipped: true}
	}

	verdict, err := d.verifier.Verify(ctx, candidate)
	if err != nil {
		return clusterResult{err: err}
	}
	if !verdict.Accepted {
		return clusterResult{rejected: true, reason: verdict.Reason}
	}

	id, err := d.rules.Commit(ctx, buildRule(candidate, verdict))
	if err != nil {
		return clusterResult{err: fmt.Errorf("committing rule: %w", err)}
	}
	return clusterResult{committedID: id}
}

// buildRule promotes an accepted candidate to a committable rule. The
// confidence recorded is the verifier's conclusive-match ratio.
func buildRule(candidate *memory.CandidateRule, verdict *verify.Verdict) *memory.Rule {
	return &memory.Rule{
		Precondition: candidate.Precondition,
		Action:       candidate.Action,
		Confidence:   verdict.Confidence,
		Provenance:   candidate.Provenance,
		Evidence:     verdict.Evidence,
		Signature:    candidate.Signature,
	}
}
