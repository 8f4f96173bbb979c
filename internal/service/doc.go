// Package service is the facade over the prover: Prove, Compose and
// Verify, plus the read-side queries the transports expose.
//
// The facade is stateless across calls. A chain's state travels in its
// proofs: Prove continues a chain from the checkpoint committed in the
// prior receipt's journal, so rounds of one chain are serialized by the
// caller holding the latest proof. Engine calls run on a bounded worker
// pool; a caller that gives up gets its context error back immediately.
package service
