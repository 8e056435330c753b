// Package monitoring provides Prometheus metrics for the storage server:
// HTTP request counters and latencies, storage operation outcomes, upload
// volume, lock timeouts, and trash occupancy.
package monitoring
