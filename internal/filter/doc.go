// Package filter implements the item filter pipeline: independently
// toggleable predicate stages evaluated in a fixed order with short-circuit
// rejection, ending with the only stage allowed to perform I/O (the user
// block-list lookup).
package filter
