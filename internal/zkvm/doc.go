// Package zkvm is the contract between the proving protocol and a
// zero-knowledge virtual machine.
//
// An Engine executes a guest Binary over serialized inputs and a set of
// assumption receipts, and returns a Receipt: the guest's image ID, its
// public journal, the claims it relied on, and an opaque seal. Receipts
// are verified against an expected image ID.
//
// LocalEngine is an in-process reference engine. It runs guests as Go
// functions and seals receipts with ed25519, which gives the same
// integrity properties the protocol depends on (tampered receipts fail
// verification) without zero-knowledge.
package zkvm
