package conformance

import (
	"fmt"

	"github.com/roach88/poam/internal/ir"
)

// PoamInput is the proving-time bundle handed to a processing guest.
// PublicData is the prior round's journal; it is nil on round 1.
type PoamInput struct {
	ImageID    ir.Fingerprint `json:"image_id"`
	Metadata   *Metadata      `json:"metadata"`
	PublicData *ir.Journal    `json:"public_data,omitempty"`
}

// Validate checks the bundle is internally consistent.
func (in *PoamInput) Validate() error {
	if err := in.Metadata.Validate(); err != nil {
		return err
	}
	if in.ImageID != in.Metadata.CurrentImageID {
		return fmt.Errorf("%w: image_id %s does not match current_image_id %s",
			ErrInvalidMetadata, in.ImageID.Short(), in.Metadata.CurrentImageID.Short())
	}
	if (in.PublicData == nil) != (in.Metadata.PreviousImageID == nil) {
		return fmt.Errorf("%w: public_data must be present exactly when chaining", ErrInvalidMetadata)
	}
	return nil
}

// PriorCheckpoint decodes the checkpoint carried in PublicData.
func (in *PoamInput) PriorCheckpoint() (*Checkpoint, error) {
	if in.PublicData == nil {
		return nil, nil
	}
	return DecodeCheckpoint(in.PublicData.Metadata)
}
