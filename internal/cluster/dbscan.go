package cluster

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
)

// Cluster is a density-connected group of similar failure episodes.
//
// Clusters are ephemeral: they are created for one consolidation pass,
// handed to rule synthesis, and discarded. They are never persisted.
type Cluster struct {
	// ID is the cluster's ordinal within the pass, assigned in discovery order.
	ID int

	// Members are the clustered episodes, in input order.
	Members []*memory.Episode

	// Centroid is the element-wise average of the members' signatures.
	Centroid []float32
}

// MemberIDs returns the episode IDs of the cluster members.
func (c *Cluster) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, ep := range c.Members {
		ids[i] = ep.ID
	}
	return ids
}

// Clusterer partitions failure episodes by signature density.
type Clusterer struct {
	metric DistanceFunc
	logger *zap.Logger
}

// Option configures a Clusterer.
type Option func(*Clusterer)

// WithMetric overrides the default Euclidean distance metric.
func WithMetric(metric DistanceFunc) Option {
	return func(c *Clusterer) {
		c.metric = metric
	}
}

// New creates a Clusterer. A nil logger falls back to a no-op logger.
func New(logger *zap.Logger, opts ...Option) *Clusterer {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Clusterer{
		metric: EuclideanDistance,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Point labels used during the scan. Zero means unclassified; noise is
// marked explicitly so border points can still be claimed by a cluster.
const (
	labelUnclassified = 0
	labelNoise        = -1
)

// Cluster groups the supplied failure episodes into density-connected
// clusters. Fewer than minPts episodes yields an empty result, never an
// error. Episodes that do not reach the density threshold are noise and
// are excluded from the output.
//
// The scan visits episodes in input order and expands neighborhoods in
// index order, so the result is deterministic for a fixed input ordering
// and fixed eps/minPts.
func (c *Clusterer) Cluster(episodes []*memory.Episode, eps float64, minPts int) []Cluster {
	if minPts < 1 || len(episodes) < minPts {
		return nil
	}

	labels := make([]int, len(episodes))
	nextID := 0

	for i := range episodes {
		if labels[i] != labelUnclassified {
			continue
		}

		neighbors := c.neighborhood(episodes, i, eps)
		if len(neighbors) < minPts {
			labels[i] = labelNoise
			continue
		}

		// i is a core point; grow a new cluster from its neighborhood.
		nextID++
		labels[i] = nextID
		c.expand(episodes, labels, neighbors, nextID, eps, minPts)
	}

	return c.collect(episodes, labels, nextID)
}

// expand claims every episode density-reachable from the seed neighborhood.
// The queue is processed in append order to keep the scan deterministic.
func (c *Clusterer) expand(episodes []*memory.Episode, labels []int, seeds []int, id int, eps float64, minPts int) {
	queue := append([]int(nil), seeds...)
	for qi := 0; qi < len(queue); qi++ {
		j := queue[qi]

		if labels[j] == labelNoise {
			// Border point: density-reachable but not core.
			labels[j] = id
			continue
		}
		if labels[j] != labelUnclassified {
			continue
		}
		labels[j] = id

		neighbors := c.neighborhood(episodes, j, eps)
		if len(neighbors) >= minPts {
			queue = append(queue, neighbors...)
		}
	}
}

// neighborhood returns the indices of all episodes within eps of episode i,
// including i itself, in ascending index order.
func (c *Clusterer) neighborhood(episodes []*memory.Episode, i int, eps float64) []int {
	var neighbors []int
	for j := range episodes {
		if c.metric(episodes[i].Signature, episodes[j].Signature) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// collect materializes clusters from the label assignment, preserving
// input order within each cluster.
func (c *Clusterer) collect(episodes []*memory.Episode, labels []int, count int) []Cluster {
	if count == 0 {
		return nil
	}

	clusters := make([]Cluster, count)
	for id := 0; id < count; id++ {
		clusters[id].ID = id
	}
	noise := 0
	for i, label := range labels {
		if label <= labelUnclassified {
			noise++
			continue
		}
		clusters[label-1].Members = append(clusters[label-1].Members, episodes[i])
	}

	for id := range clusters {
		signatures := make([][]float32, len(clusters[id].Members))
		for i, ep := range clusters[id].Members {
			signatures[i] = ep.Signature
		}
		clusters[id].Centroid = Centroid(signatures)
	}

	c.logger.Debug("clustering completed",
		zap.Int("episodes", len(episodes)),
		zap.Int("clusters", len(clusters)),
		zap.Int("noise", noise))

	return clusters
}
