// Package progress provides the crawl event model and a non-blocking hub that
// batches events on a background goroutine and fans them out to pluggable
// sinks (logs, Prometheus, message transports, run history).
package progress
