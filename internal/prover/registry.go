package prover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// ErrDuplicateGuest is returned by NewRegistry when two binaries share a
// name or image ID.
var ErrDuplicateGuest = errors.New("prover: duplicate guest")

// Registry maps image IDs to guest binaries. It is immutable after
// construction, so lookups need no locking.
type Registry struct {
	byID   map[ir.Fingerprint]*zkvm.Binary
	byName map[string]*zkvm.Binary
	order  []*zkvm.Binary
}

// NewRegistry builds a registry over bins, preserving their order.
func NewRegistry(bins ...*zkvm.Binary) (*Registry, error) {
	r := &Registry{
		byID:   make(map[ir.Fingerprint]*zkvm.Binary, len(bins)),
		byName: make(map[string]*zkvm.Binary, len(bins)),
	}
	for _, b := range bins {
		id := b.ImageID()
		if _, ok := r.byID[id]; ok {
			return nil, fmt.Errorf("%w: image %s", ErrDuplicateGuest, id.Short())
		}
		if _, ok := r.byName[b.Name]; ok {
			return nil, fmt.Errorf("%w: name %q", ErrDuplicateGuest, b.Name)
		}
		r.byID[id] = b
		r.byName[b.Name] = b
		r.order = append(r.order, b)
	}
	return r, nil
}

// Lookup returns the binary for imageID.
func (r *Registry) Lookup(imageID ir.Fingerprint) (*zkvm.Binary, error) {
	b, ok := r.byID[imageID]
	if !ok {
		return nil, &Error{
			Code:    ErrCodeUnknownFingerprint,
			Message: "no guest registered for image id",
			ImageID: imageID.Short(),
		}
	}
	return b, nil
}

// LookupName returns the binary registered under name.
func (r *Registry) LookupName(name string) (*zkvm.Binary, error) {
	b, ok := r.byName[name]
	if !ok {
		return nil, newError(ErrCodeUnknownFingerprint, fmt.Sprintf("no guest named %q", name), nil)
	}
	return b, nil
}

// Resolve turns a guest reference into an image ID. A reference is a
// registered guest name or the 64-character hex form of an image ID; hex
// references need not be registered.
func (r *Registry) Resolve(ref string) (ir.Fingerprint, error) {
	ref = strings.TrimSpace(ref)
	if b, ok := r.byName[ref]; ok {
		return b.ImageID(), nil
	}
	if len(ref) == 2*4*ir.FingerprintWords {
		fp, err := ir.ParseFingerprint(ref)
		if err == nil {
			return fp, nil
		}
	}
	return ir.Fingerprint{}, newError(ErrCodeUnknownFingerprint, fmt.Sprintf("unknown guest reference %q", ref), nil)
}

// NameOf returns the registered name of imageID, or its short hex.
func (r *Registry) NameOf(imageID ir.Fingerprint) string {
	if b, ok := r.byID[imageID]; ok {
		return b.Name
	}
	return imageID.Short()
}

// Binaries returns the registered binaries in registration order.
func (r *Registry) Binaries() []*zkvm.Binary {
	out := make([]*zkvm.Binary, len(r.order))
	copy(out, r.order)
	return out
}
