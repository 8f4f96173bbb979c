package zkvm

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/roach88/poam/internal/ir"
)

// ErrMalformedReceipt is returned when receipt bytes cannot be decoded.
var ErrMalformedReceipt = errors.New("zkvm: malformed receipt")

// Claim is what a receipt attests: guest image ID plus journal digest.
type Claim struct {
	ImageID       ir.Fingerprint
	JournalDigest [32]byte
}

// ClaimOf returns the claim for a journal produced by imageID.
func ClaimOf(imageID ir.Fingerprint, journal []byte) Claim {
	return Claim{ImageID: imageID, JournalDigest: sha256.Sum256(journal)}
}

// Receipt is the output of one guest execution. Receipts are immutable
// once produced.
type Receipt struct {
	ImageID     ir.Fingerprint
	Journal     []byte
	Assumptions []Claim
	Seal        []byte
}

// Claim returns the claim this receipt proves.
func (r *Receipt) Claim() Claim {
	return ClaimOf(r.ImageID, r.Journal)
}

// DecodeJournal decodes the public journal into v.
func (r *Receipt) DecodeJournal(v any) error {
	if err := Unmarshal(r.Journal, v); err != nil {
		return fmt.Errorf("decode journal: %w", err)
	}
	return nil
}

// Keys are small integers in ascending order so the deterministic encoding
// always ends with the seal.
type wireReceipt struct {
	ImageID     []uint32    `cbor:"1,keyasint"`
	Journal     []byte      `cbor:"2,keyasint"`
	Assumptions []wireClaim `cbor:"3,keyasint,omitempty"`
	Seal        []byte      `cbor:"4,keyasint"`
}

type wireClaim struct {
	ImageID       []uint32 `cbor:"1,keyasint"`
	JournalDigest []byte   `cbor:"2,keyasint"`
}

// MarshalBinary returns the deterministic CBOR encoding of r.
func (r *Receipt) MarshalBinary() ([]byte, error) {
	w := wireReceipt{
		ImageID: r.ImageID.Words(),
		Journal: r.Journal,
		Seal:    r.Seal,
	}
	for _, c := range r.Assumptions {
		w.Assumptions = append(w.Assumptions, wireClaim{
			ImageID:       c.ImageID.Words(),
			JournalDigest: c.JournalDigest[:],
		})
	}
	return Marshal(w)
}

// DecodeReceipt parses bytes produced by MarshalBinary. Only the canonical
// encoding is accepted, so any changed byte either fails to decode or
// changes the decoded receipt.
func DecodeReceipt(data []byte) (*Receipt, error) {
	var w wireReceipt
	if err := Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	imageID, err := ir.FingerprintFromWords(w.ImageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	r := &Receipt{ImageID: imageID, Journal: w.Journal, Seal: w.Seal}
	for i, c := range w.Assumptions {
		fp, err := ir.FingerprintFromWords(c.ImageID)
		if err != nil {
			return nil, fmt.Errorf("%w: assumption %d: %v", ErrMalformedReceipt, i, err)
		}
		if len(c.JournalDigest) != sha256.Size {
			return nil, fmt.Errorf("%w: assumption %d: digest is %d bytes", ErrMalformedReceipt, i, len(c.JournalDigest))
		}
		claim := Claim{ImageID: fp}
		copy(claim.JournalDigest[:], c.JournalDigest)
		r.Assumptions = append(r.Assumptions, claim)
	}
	canonical, err := r.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	if !bytes.Equal(canonical, data) {
		return nil, fmt.Errorf("%w: non-canonical encoding", ErrMalformedReceipt)
	}
	return r, nil
}
