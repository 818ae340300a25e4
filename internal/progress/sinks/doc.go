// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, run history persistence, and message transports.
// Each sink satisfies progress.Sink and tolerates repeated Consume/Close cycles.
package sinks
