// Package store provides the SQLite audit log of proven rounds and
// compositions.
//
// The log is append-only:
//   - rounds: one row per successfully proven round, unique per
//     (chain_id, round), carrying the serialized receipt
//   - compositions: one row per composite receipt with the digests of its
//     constituents
//
// # Invariants
//
// Identity: row IDs are content-addressed (ir.RoundID, ir.CompositionID),
// so writing the same round twice is a no-op. A different round at an
// occupied (chain_id, round) is a fork and is refused.
//
// Ordering: every multi-row read orders by round or seq, then
// id COLLATE BINARY, so results are identical across replays.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
