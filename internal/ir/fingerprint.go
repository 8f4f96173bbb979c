package ir

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// FingerprintWords is the width of a fingerprint in 32-bit words.
const FingerprintWords = 8

// ErrMalformedFingerprint is returned when a fingerprint does not have
// exactly FingerprintWords words (or 4*FingerprintWords bytes).
var ErrMalformedFingerprint = errors.New("ir: malformed fingerprint")

// Fingerprint names a guest program. Two fingerprints are the same guest
// iff all eight words are equal.
type Fingerprint [FingerprintWords]uint32

// FingerprintFromWords converts a wire word slice into a Fingerprint.
func FingerprintFromWords(words []uint32) (Fingerprint, error) {
	var fp Fingerprint
	if len(words) != FingerprintWords {
		return fp, fmt.Errorf("%w: got %d words, want %d", ErrMalformedFingerprint, len(words), FingerprintWords)
	}
	copy(fp[:], words)
	return fp, nil
}

// FingerprintFromBytes decodes 32 little-endian bytes.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	var fp Fingerprint
	if len(b) != FingerprintWords*4 {
		return fp, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedFingerprint, len(b), FingerprintWords*4)
	}
	for i := range fp {
		fp[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return fp, nil
}

// ParseFingerprint parses the 64-character hex form produced by String.
func ParseFingerprint(s string) (Fingerprint, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", ErrMalformedFingerprint, err)
	}
	return FingerprintFromBytes(raw)
}

// Words returns the fingerprint as a wire word slice.
func (f Fingerprint) Words() []uint32 {
	out := make([]uint32, FingerprintWords)
	copy(out, f[:])
	return out
}

// Bytes returns the little-endian byte encoding.
func (f Fingerprint) Bytes() []byte {
	out := make([]byte, FingerprintWords*4)
	for i, w := range f {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// IsZero reports whether every word is zero.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// String returns the hex form of Bytes.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f.Bytes())
}

// Short returns the first 8 hex characters, for logs.
func (f Fingerprint) Short() string {
	return f.String()[:8]
}

// UnmarshalJSON rejects arrays that are not exactly eight words long.
// encoding/json would otherwise silently pad or truncate a Go array.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var words []uint32
	if err := json.Unmarshal(data, &words); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFingerprint, err)
	}
	fp, err := FingerprintFromWords(words)
	if err != nil {
		return err
	}
	*f = fp
	return nil
}
