// Package crawler holds the shared vocabulary of the listing crawler: item
// descriptors, page requests and results, session records, the capability
// interfaces implemented by sources and infrastructure, the retry policy and
// page-bound arithmetic used by the engine.
package crawler
