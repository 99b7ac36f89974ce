// Package progress carries session progress events from the crawl engine to
// pluggable sinks through a non-blocking, batching hub.
package progress
