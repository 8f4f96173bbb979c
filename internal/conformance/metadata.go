// Package conformance holds the per-round conformance metadata of a proof
// chain and its lifecycle.
//
// A chain starts in the initial state (no previous guest, empty filter).
// Each successful round commits a Checkpoint; the next round's Metadata is
// derived from that checkpoint with Checkpoint.Next. Values are never
// mutated in place: Advance works on a cloned filter, so a rejected or
// failed round leaves the caller's metadata bit-identical.
package conformance

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/poam/internal/filter"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/rules"
)

var (
	// ErrInvalidMetadata is returned by Validate and the decoders.
	ErrInvalidMetadata = errors.New("conformance: invalid metadata")

	// ErrBrokenLink is returned when metadata does not continue a checkpoint.
	ErrBrokenLink = errors.New("conformance: metadata does not continue checkpoint")
)

// FilterParams sizes the membership filter of a new chain.
type FilterParams struct {
	Capacity          uint32  `json:"capacity" yaml:"capacity"`
	FalsePositiveRate float64 `json:"false_positive_rate" yaml:"false_positive_rate"`
}

// DefaultFilterParams returns the default sizing (100 entries at 1%).
func DefaultFilterParams() FilterParams {
	return FilterParams{Capacity: filter.DefaultCapacity, FalsePositiveRate: filter.DefaultFPRate}
}

// Metadata binds one proving round: the chain it belongs to, the guest
// being proven, the guest proven before it, the active rules and the
// filter as of the previous round.
type Metadata struct {
	ChainID         string          `json:"chain_id"`
	Round           uint64          `json:"round"`
	PreviousImageID *ir.Fingerprint `json:"previous_image_id,omitempty"`
	CurrentImageID  ir.Fingerprint  `json:"current_image_id"`
	Rules           *ir.RuleInput   `json:"rules,omitempty"`
	Filter          *filter.Filter  `json:"filter"`
}

// Initial returns the metadata for round 1 of a new chain.
func Initial(chainID string, current ir.Fingerprint, rs *ir.RuleInput, params FilterParams) (*Metadata, error) {
	f, err := filter.New(params.Capacity, params.FalsePositiveRate)
	if err != nil {
		return nil, err
	}
	m := &Metadata{
		ChainID:        chainID,
		Round:          1,
		CurrentImageID: current,
		Rules:          rs,
		Filter:         f,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks structural invariants: a chain id, a non-zero current
// guest, a previous guest present exactly when Round > 1, a filter, and
// well-formed rules.
func (m *Metadata) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: nil", ErrInvalidMetadata)
	case m.ChainID == "":
		return fmt.Errorf("%w: chain_id is required", ErrInvalidMetadata)
	case m.Round == 0:
		return fmt.Errorf("%w: round starts at 1", ErrInvalidMetadata)
	case m.CurrentImageID.IsZero():
		return fmt.Errorf("%w: current_image_id is required", ErrInvalidMetadata)
	case m.Round == 1 && m.PreviousImageID != nil:
		return fmt.Errorf("%w: first round has no previous_image_id", ErrInvalidMetadata)
	case m.Round > 1 && m.PreviousImageID == nil:
		return fmt.Errorf("%w: round %d requires previous_image_id", ErrInvalidMetadata, m.Round)
	case m.Filter == nil:
		return fmt.Errorf("%w: filter is required", ErrInvalidMetadata)
	}
	if err := m.Rules.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return nil
}

// State names the lifecycle state this metadata was derived from.
func (m *Metadata) State() string {
	if m.PreviousImageID == nil {
		return "initial"
	}
	return fmt.Sprintf("chained(%d)", m.Round-1)
}

// Evaluate runs the rule engine for this round. It is the single rule
// evaluation shared by host and guest.
func (m *Metadata) Evaluate() rules.Result {
	return rules.Evaluate(m.Rules, m.Filter, m.CurrentImageID)
}

// Advance re-checks the rules and returns the checkpoint this round
// commits: the digest of the rules and the current guest inserted into a
// clone of the filter.
// The receiver is never modified.
func (m *Metadata) Advance() (*Checkpoint, error) {
	if err := m.Evaluate().Err(); err != nil {
		return nil, err
	}
	digest, err := ir.RulesDigest(m.Rules)
	if err != nil {
		return nil, fmt.Errorf("advance round %d: %w", m.Round, err)
	}
	next := m.Filter.Clone()
	if err := next.Insert(m.CurrentImageID); err != nil {
		return nil, fmt.Errorf("advance round %d: %w", m.Round, err)
	}
	return &Checkpoint{
		ChainID:     m.ChainID,
		Round:       m.Round,
		ImageID:     m.CurrentImageID,
		RulesDigest: digest,
		Filter:      next,
	}, nil
}

// Continues checks that m is the round directly after prev.
func (m *Metadata) Continues(prev *Checkpoint) error {
	switch {
	case prev == nil:
		return fmt.Errorf("%w: no checkpoint", ErrBrokenLink)
	case m.ChainID != prev.ChainID:
		return fmt.Errorf("%w: chain %q != %q", ErrBrokenLink, m.ChainID, prev.ChainID)
	case m.Round != prev.Round+1:
		return fmt.Errorf("%w: round %d does not follow %d", ErrBrokenLink, m.Round, prev.Round)
	case m.PreviousImageID == nil || *m.PreviousImageID != prev.ImageID:
		return fmt.Errorf("%w: previous_image_id mismatch", ErrBrokenLink)
	case !m.Filter.Equal(prev.Filter):
		return fmt.Errorf("%w: filter mismatch", ErrBrokenLink)
	}
	return nil
}

// Clone returns a deep copy with its own filter.
func (m *Metadata) Clone() *Metadata {
	c := *m
	if m.PreviousImageID != nil {
		prev := *m.PreviousImageID
		c.PreviousImageID = &prev
	}
	if m.Filter != nil {
		c.Filter = m.Filter.Clone()
	}
	return &c
}

// DecodeMetadata parses and validates JSON metadata.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
