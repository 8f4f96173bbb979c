package service

import (
	"sync"

	"github.com/google/uuid"
)

// ChainIDGenerator produces identifiers for new chains.
type ChainIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 chain IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so chain IDs
// sort by creation time in the audit store.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined chain IDs for testing.
//
// This enables deterministic golden traces.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined ID.
//
// Panics once all IDs have been consumed, to catch a test that starts more
// chains than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all chain ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
