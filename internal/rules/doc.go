// Package rules evaluates conformance rules against a chain's membership
// filter.
//
// Evaluation is pure and fail-fast: rules are checked in declaration order
// (Rules, then OrderingRules) and the first violated rule decides the
// outcome. The same Evaluate is called by the host before proving and by
// the processing guest inside the proof. Nothing in this package inserts
// into a filter.
package rules
