// Package ir provides the value types shared by every layer of the proof
// chaining protocol.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Fingerprints are fixed-width (8 x uint32) and compared by value only
//   - All JSON tags use snake_case
//   - Content-addressed identifiers use RFC 8785 canonical JSON with
//     domain-separated SHA-256 (see hash.go)
//   - Floats never enter canonical JSON; operation results are carried as
//     decimal strings
package ir
