// Package harness runs YAML conformance scenarios against an in-process
// proving service.
//
// A scenario is a list of steps. Each step proves a round, composes the
// current chain, verifies a proof or tampers with one, and may state what
// it expects:
//
//	name: precedence-satisfied
//	description: round 2 requires the guest proven in round 1
//	steps:
//	  - prove: {operation: add, a: 2, b: 3}
//	    expect: {outcome: ok, result: "5", round: 1}
//	  - prove:
//	      operation: mul
//	      a: 5
//	      b: 4
//	      rules:
//	        rules:
//	          - precedence: {preceding: arith.add}
//	    expect: {outcome: ok, result: "20", round: 2, chain_length: 2}
//
// Every scenario runs with a fresh in-memory audit store, a local engine
// with a fixed key and fixed chain ids, so traces are deterministic and can
// be compared against golden files (see RunWithGolden).
//
// Rule sets inside a scenario use the same shape as CUE policies; guests are
// referenced by name or 64-char hex image id.
package harness
