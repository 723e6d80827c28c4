// Package quorumdeps aggregates per-replica dependency reports for a single
// in-flight command into one merged dependency set once a quorum of
// replicas has responded.
package quorumdeps
