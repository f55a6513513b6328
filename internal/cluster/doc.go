// Package cluster groups failure episodes into candidate pattern clusters.
//
// Clustering is density based: two episodes belong to the same cluster when
// they are connected through a chain of neighbors whose signature distance
// is at most eps, and a cluster materializes only once it holds at least
// minPts episodes. Episodes that do not reach the density threshold are
// noise and excluded from the output.
//
// The distance metric is pluggable; the default is Euclidean distance over
// the failure-signature vectors. For a fixed input ordering and fixed
// eps/minPts the output is identical across runs.
package cluster
