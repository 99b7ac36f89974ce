// Package store holds the per-session result store: the ordered, de-duplicated
// identifier and metadata sequences of accepted items. The engine is the only
// writer while a session runs; readers get copies.
package store
