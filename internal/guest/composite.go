package guest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// Constituent is one receipt being composed, as the composition guest
// sees it: the image ID and journal it must find among its assumptions.
type Constituent struct {
	_       struct{}       `cbor:",toarray"`
	ImageID ir.Fingerprint `json:"image_id"`
	Journal []byte         `json:"journal"`
}

// CompositeInputs returns the serialized input of the composition guest.
func CompositeInputs(cs []Constituent) ([][]byte, error) {
	b, err := zkvm.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("encode constituents: %w", err)
	}
	return [][]byte{b}, nil
}

// composite verifies every constituent as an assumption and commits one
// claim per constituent. Any constituent that does not verify fails the
// whole composition.
func composite(env *zkvm.Env) error {
	var cs []Constituent
	if err := env.Read(&cs); err != nil {
		return err
	}
	if len(cs) == 0 {
		return ErrNoConstituents
	}
	out := ir.CompositeJournal{Claims: make([]ir.ConstituentRef, 0, len(cs))}
	for i, c := range cs {
		if err := env.VerifyAssumption(c.ImageID, c.Journal); err != nil {
			return fmt.Errorf("constituent %d: %w", i, err)
		}
		sum := sha256.Sum256(c.Journal)
		out.Claims = append(out.Claims, ir.ConstituentRef{
			ImageID:       c.ImageID,
			JournalDigest: hex.EncodeToString(sum[:]),
		})
	}
	return env.Commit(out)
}
