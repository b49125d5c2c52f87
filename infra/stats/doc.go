// Package stats exports the pool counters as Prometheus metrics. Every
// value is read from the pool at scrape time.
package stats
