// Package filter implements the membership filter that records which guest
// fingerprints a chain has already proven.
//
// The structure is a partitioned counting Bloom filter: k rows of width
// counters, one row per hash function. Membership holds when every row's
// counter is non-zero; the approximate count is the minimum across rows, so
// it never undercounts. Counters are never decremented.
package filter

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/poam/internal/ir"
)

var (
	// ErrOverflow is returned by Insert once Capacity insertions were made.
	ErrOverflow = errors.New("filter: capacity exhausted")

	// ErrInvalidParams is returned by New for a zero capacity or a false
	// positive rate outside (0, 1).
	ErrInvalidParams = errors.New("filter: invalid parameters")

	// ErrCorrupt is returned when decoding a malformed snapshot.
	ErrCorrupt = errors.New("filter: corrupt snapshot")
)

// Defaults used when a chain starts without explicit sizing.
const (
	DefaultCapacity = 100
	DefaultFPRate   = 0.01
)

const (
	magic     = "PMF1"
	headerLen = len(magic) + 4 + 8 + 4 + 4 + 4
	maxCells  = 1 << 24
)

// Filter is a counting membership filter over fingerprints.
// A Filter is not safe for concurrent mutation; chains own their filter and
// derive successors with Clone.
type Filter struct {
	capacity uint32
	fpRate   float64
	k        uint32
	width    uint32
	n        uint32
	counters []uint32
}

// New returns an empty filter sized for capacity insertions at the given
// false positive rate.
func New(capacity uint32, fpRate float64) (*Filter, error) {
	if capacity == 0 || !(fpRate > 0 && fpRate < 1) {
		return nil, fmt.Errorf("%w: capacity=%d fp_rate=%v", ErrInvalidParams, capacity, fpRate)
	}
	k, width := dimensions(capacity, fpRate)
	if uint64(k)*uint64(width) > maxCells {
		return nil, fmt.Errorf("%w: %d cells exceeds limit", ErrInvalidParams, uint64(k)*uint64(width))
	}
	return &Filter{
		capacity: capacity,
		fpRate:   fpRate,
		k:        k,
		width:    width,
		counters: make([]uint32, int(k)*int(width)),
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(capacity uint32, fpRate float64) *Filter {
	f, err := New(capacity, fpRate)
	if err != nil {
		panic(err)
	}
	return f
}

// dimensions computes the standard optimum: m = -n ln p / (ln 2)^2 cells,
// k = (m/n) ln 2 hash functions, split into k rows.
func dimensions(capacity uint32, fpRate float64) (k, width uint32) {
	n := float64(capacity)
	m := math.Ceil(-n * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	kf := math.Round(m / n * math.Ln2)
	if kf < 1 {
		kf = 1
	}
	w := math.Ceil(m / kf)
	if w < 1 {
		w = 1
	}
	return uint32(kf), uint32(w)
}

// Insert records one occurrence of fp.
func (f *Filter) Insert(fp ir.Fingerprint) error {
	if f.n >= f.capacity {
		return fmt.Errorf("%w: %d/%d", ErrOverflow, f.n, f.capacity)
	}
	f.each(fp, func(i int) {
		if f.counters[i] < math.MaxUint32 {
			f.counters[i]++
		}
	})
	f.n++
	return nil
}

// Contains reports whether fp may have been inserted. False positives occur
// at roughly the configured rate; false negatives never do.
func (f *Filter) Contains(fp ir.Fingerprint) bool {
	return f.ApproximateCount(fp) > 0
}

// ApproximateCount estimates how many times fp was inserted. The estimate
// is never below the true count.
func (f *Filter) ApproximateCount(fp ir.Fingerprint) uint32 {
	est := uint32(math.MaxUint32)
	f.each(fp, func(i int) {
		if c := f.counters[i]; c < est {
			est = c
		}
	})
	return est
}

// each calls fn with the counter index of fp in every row, using
// Kirsch-Mitzenmacher double hashing over one 64-bit xxhash.
func (f *Filter) each(fp ir.Fingerprint, fn func(int)) {
	h := xxhash.Sum64(fp.Bytes())
	h1 := uint32(h)
	h2 := uint32(h>>32) | 1
	for row := uint32(0); row < f.k; row++ {
		col := (h1 + row*h2) % f.width
		fn(int(row*f.width + col))
	}
}

// Len returns the number of insertions so far.
func (f *Filter) Len() uint32 { return f.n }

// Capacity returns the configured maximum number of insertions.
func (f *Filter) Capacity() uint32 { return f.capacity }

// FalsePositiveRate returns the configured target false positive rate.
func (f *Filter) FalsePositiveRate() float64 { return f.fpRate }

// HashCount returns the number of rows (hash functions).
func (f *Filter) HashCount() uint32 { return f.k }

// Clone returns a deep copy.
func (f *Filter) Clone() *Filter {
	c := *f
	c.counters = make([]uint32, len(f.counters))
	copy(c.counters, f.counters)
	return &c
}

// Equal reports whether two filters have identical parameters and counters.
func (f *Filter) Equal(other *Filter) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.capacity != other.capacity || f.fpRate != other.fpRate ||
		f.k != other.k || f.width != other.width || f.n != other.n {
		return false
	}
	for i, c := range f.counters {
		if other.counters[i] != c {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the filter as:
//
//	"PMF1" | capacity u32 | fp_rate f64 bits | k u32 | width u32 | n u32 | counters u32...
//
// All integers are little-endian. Encoding is deterministic.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerLen+4*len(f.counters))
	copy(buf, magic)
	off := len(magic)
	binary.LittleEndian.PutUint32(buf[off:], f.capacity)
	binary.LittleEndian.PutUint64(buf[off+4:], math.Float64bits(f.fpRate))
	binary.LittleEndian.PutUint32(buf[off+12:], f.k)
	binary.LittleEndian.PutUint32(buf[off+16:], f.width)
	binary.LittleEndian.PutUint32(buf[off+20:], f.n)
	off = headerLen
	for _, c := range f.counters {
		binary.LittleEndian.PutUint32(buf[off:], c)
		off += 4
	}
	return buf, nil
}

// UnmarshalBinary decodes a snapshot produced by MarshalBinary.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < headerLen || !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	off := len(magic)
	capacity := binary.LittleEndian.Uint32(data[off:])
	fpRate := math.Float64frombits(binary.LittleEndian.Uint64(data[off+4:]))
	k := binary.LittleEndian.Uint32(data[off+12:])
	width := binary.LittleEndian.Uint32(data[off+16:])
	n := binary.LittleEndian.Uint32(data[off+20:])

	if capacity == 0 || !(fpRate > 0 && fpRate < 1) {
		return fmt.Errorf("%w: capacity=%d fp_rate=%v", ErrCorrupt, capacity, fpRate)
	}
	if wk, ww := dimensions(capacity, fpRate); wk != k || ww != width {
		return fmt.Errorf("%w: dimensions %dx%d do not match parameters", ErrCorrupt, k, width)
	}
	if n > capacity {
		return fmt.Errorf("%w: %d insertions exceed capacity %d", ErrCorrupt, n, capacity)
	}
	cells := uint64(k) * uint64(width)
	if cells > maxCells || uint64(len(data)-headerLen) != 4*cells {
		return fmt.Errorf("%w: expected %d counters", ErrCorrupt, cells)
	}

	counters := make([]uint32, cells)
	for i := range counters {
		counters[i] = binary.LittleEndian.Uint32(data[headerLen+4*i:])
	}
	*f = Filter{capacity: capacity, fpRate: fpRate, k: k, width: width, n: n, counters: counters}
	return nil
}

// MarshalJSON encodes the binary snapshot as a base64 string.
func (f *Filter) MarshalJSON() ([]byte, error) {
	raw, err := f.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(raw))
}

// UnmarshalJSON decodes a base64 snapshot string.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return f.UnmarshalBinary(raw)
}

// Decode parses a binary snapshot into a new Filter.
func Decode(data []byte) (*Filter, error) {
	f := new(Filter)
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}
