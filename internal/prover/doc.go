// Package prover drives the proving engine on behalf of the service:
// the guest registry, the proof input assembler, the proving
// orchestrator, the composer and the verifier.
//
// Failures are reported as *Error values carrying a Code. Every code
// belongs to one category (configuration, engine, malformed input);
// conformance rejections from the rules package form a category of their
// own. Verification never fails for a cryptographically invalid receipt;
// invalidity is an Outcome.
package prover
