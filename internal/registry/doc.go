// Package registry implements the controller registry (spec §4.6): the
// process-wide map from partition id to partition controller, the Status
// aggregator across partitions, and the best-effort restore-on-startup
// path that re-Initializes partitions from a persisted (partition_id,
// session_id) list.
package registry
