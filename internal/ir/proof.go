package ir

// Proof is the wire form of a receipt: the guest fingerprint it verifies
// against and the serialized receipt bytes.
//
// ImageID is a slice rather than a Fingerprint so that wrong-length input
// survives decoding and can be reported as malformed by the verifier.
type Proof struct {
	ImageID []uint32 `json:"image_id"`
	Receipt []byte   `json:"receipt"`
}

// NewProof builds a Proof from a fingerprint and receipt bytes.
func NewProof(fp Fingerprint, receipt []byte) Proof {
	return Proof{ImageID: fp.Words(), Receipt: receipt}
}

// Fingerprint returns the proof's image ID, or ErrMalformedFingerprint.
func (p Proof) Fingerprint() (Fingerprint, error) {
	return FingerprintFromWords(p.ImageID)
}

// ProofChain is the ordered provenance trail of a chain, oldest first.
type ProofChain []Proof

// Last returns the most recent proof, or false for an empty chain.
func (c ProofChain) Last() (Proof, bool) {
	if len(c) == 0 {
		return Proof{}, false
	}
	return c[len(c)-1], true
}

// Append returns a new chain with p appended. The receiver is not modified.
func (c ProofChain) Append(p Proof) ProofChain {
	out := make(ProofChain, 0, len(c)+1)
	out = append(out, c...)
	return append(out, p)
}
