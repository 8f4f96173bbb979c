package conformance

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/poam/internal/filter"
	"github.com/roach88/poam/internal/ir"
)

// Checkpoint is what a successful round commits as journal metadata:
// the chain, the round just proven, its guest, the digest of the rules it
// was checked under and the filter including it. RulesDigest is empty when
// the round ran without a rule set.
type Checkpoint struct {
	ChainID     string         `json:"chain_id"`
	Round       uint64         `json:"round"`
	ImageID     ir.Fingerprint `json:"image_id"`
	RulesDigest string         `json:"rules_digest,omitempty"`
	Filter      *filter.Filter `json:"filter"`
}

// Next returns the metadata for the round after c, proving current under
// rs. The filter is cloned; c stays untouched.
func (c *Checkpoint) Next(current ir.Fingerprint, rs *ir.RuleInput) *Metadata {
	prev := c.ImageID
	return &Metadata{
		ChainID:         c.ChainID,
		Round:           c.Round + 1,
		PreviousImageID: &prev,
		CurrentImageID:  current,
		Rules:           rs,
		Filter:          c.Filter.Clone(),
	}
}

// Validate checks the checkpoint's structural invariants.
func (c *Checkpoint) Validate() error {
	switch {
	case c.ChainID == "":
		return fmt.Errorf("%w: checkpoint chain_id is required", ErrInvalidMetadata)
	case c.Round == 0:
		return fmt.Errorf("%w: checkpoint round starts at 1", ErrInvalidMetadata)
	case c.ImageID.IsZero():
		return fmt.Errorf("%w: checkpoint image_id is required", ErrInvalidMetadata)
	case c.Filter == nil:
		return fmt.Errorf("%w: checkpoint filter is required", ErrInvalidMetadata)
	case !c.Filter.Contains(c.ImageID):
		return fmt.Errorf("%w: checkpoint filter does not contain its image_id", ErrInvalidMetadata)
	case c.RulesDigest != "" && !isDigest(c.RulesDigest):
		return fmt.Errorf("%w: checkpoint rules_digest is not a sha-256 hex digest", ErrInvalidMetadata)
	}
	return nil
}

// Commits reports whether the checkpoint was proven under exactly rs.
func (c *Checkpoint) Commits(rs *ir.RuleInput) (bool, error) {
	d, err := ir.RulesDigest(rs)
	if err != nil {
		return false, err
	}
	return d == c.RulesDigest, nil
}

func isDigest(s string) bool {
	b, err := hex.DecodeString(s)
	return err == nil && len(b) == 32
}

// Encode returns the JSON form carried in journal metadata.
func (c *Checkpoint) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	return string(data), nil
}

// DecodeCheckpoint parses and validates journal metadata.
func DecodeCheckpoint(s string) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
