package zkvm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/poam/internal/ir"
)

const sealDomain = "poam/seal/v1"

// ErrInvalidSeed is returned for a seed that is not ed25519.SeedSize bytes.
var ErrInvalidSeed = errors.New("zkvm: invalid key seed")

// LocalEngine runs guests in-process and seals receipts with ed25519.
type LocalEngine struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	logger *slog.Logger
}

// NewLocalEngine returns an engine sealing with the key derived from seed.
func NewLocalEngine(seed []byte, logger *slog.Logger) (*LocalEngine, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSeed, len(seed), ed25519.SeedSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &LocalEngine{
		priv:   priv,
		pub:    priv.Public().(ed25519.PublicKey),
		logger: logger,
	}, nil
}

// NewLocalEngineFromHex is NewLocalEngine over a hex-encoded seed.
func NewLocalEngineFromHex(seedHex string, logger *slog.Logger) (*LocalEngine, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return NewLocalEngine(seed, logger)
}

// GenerateSeed returns a random seed.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return seed, nil
}

// NewVerifyingEngine returns an engine that verifies receipts sealed by
// the holder of pub and refuses to execute.
func NewVerifyingEngine(pub ed25519.PublicKey) *LocalEngine {
	return &LocalEngine{pub: pub, logger: slog.Default()}
}

// PublicKey returns the sealing public key.
func (e *LocalEngine) PublicKey() ed25519.PublicKey {
	return e.pub
}

// Execute verifies every assumption, runs the guest and seals its journal.
// Cancellation is honoured before the guest starts; a running guest is not
// interrupted.
func (e *LocalEngine) Execute(ctx context.Context, req ExecRequest) (*Receipt, error) {
	if e.priv == nil {
		return nil, ErrVerifyOnly
	}
	if req.Binary == nil || req.Binary.Program == nil {
		return nil, fmt.Errorf("%w: no program", ErrGuestFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imageID := req.Binary.ImageID()
	claims := make([]Claim, 0, len(req.Assumptions))
	for i, a := range req.Assumptions {
		if a == nil {
			return nil, fmt.Errorf("%w: assumption %d is nil", ErrAssumptionRejected, i)
		}
		if err := e.Verify(a, a.ImageID); err != nil {
			return nil, fmt.Errorf("%w: assumption %d (%s): %w", ErrAssumptionRejected, i, a.ImageID.Short(), err)
		}
		claims = append(claims, a.Claim())
	}

	start := time.Now()
	env := newEnv(req.Inputs, claims)
	if err := run(req.Binary, env); err != nil {
		e.logger.Debug("guest failed", "guest", req.Binary.Name, "image_id", imageID.Short(), "error", err)
		return nil, err
	}
	if !env.committed {
		return nil, fmt.Errorf("%w: %s committed no journal", ErrGuestFailed, req.Binary.Name)
	}

	r := &Receipt{
		ImageID:     imageID,
		Journal:     env.journal,
		Assumptions: env.used,
	}
	r.Seal = ed25519.Sign(e.priv, sealDigest(r))

	e.logger.Debug("guest executed",
		"guest", req.Binary.Name,
		"image_id", imageID.Short(),
		"assumptions", len(env.used),
		"duration", time.Since(start))
	return r, nil
}

func run(b *Binary, env *Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrGuestFailed, b.Name, p)
		}
	}()
	if err := b.Program(env); err != nil {
		if errors.Is(err, ErrAssumptionRejected) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrGuestFailed, b.Name, err)
	}
	return nil
}

// Verify checks that r was sealed by this engine's key for imageID.
// It never panics on malformed receipts.
func (e *LocalEngine) Verify(r *Receipt, imageID ir.Fingerprint) error {
	if r == nil {
		return fmt.Errorf("%w: nil receipt", ErrVerificationFailed)
	}
	if r.ImageID != imageID {
		return fmt.Errorf("%w: image id %s, expected %s", ErrVerificationFailed, r.ImageID.Short(), imageID.Short())
	}
	if len(r.Seal) != ed25519.SignatureSize || len(e.pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad seal length", ErrVerificationFailed)
	}
	if !ed25519.Verify(e.pub, sealDigest(r), r.Seal) {
		return fmt.Errorf("%w: seal does not match claim", ErrVerificationFailed)
	}
	return nil
}

// sealDigest binds image ID, journal digest and assumption claims.
func sealDigest(r *Receipt) []byte {
	h := sha256.New()
	h.Write([]byte(sealDomain))
	h.Write([]byte{0x00})
	c := r.Claim()
	h.Write(c.ImageID.Bytes())
	h.Write(c.JournalDigest[:])
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(r.Assumptions)))
	h.Write(n[:])
	for _, a := range r.Assumptions {
		h.Write(a.ImageID.Bytes())
		h.Write(a.JournalDigest[:])
	}
	return h.Sum(nil)
}
