package zkvm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/poam/internal/ir"
)

func testSeed(b byte) []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func newTestEngine(t *testing.T) *LocalEngine {
	t.Helper()
	e, err := NewLocalEngine(testSeed(7), nil)
	require.NoError(t, err)
	return e
}

// echo commits its single string input.
var echo = &Binary{Name: "test.echo", Version: "1", Program: func(env *Env) error {
	var s string
	if err := env.Read(&s); err != nil {
		return err
	}
	return env.Commit(s)
}}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := Marshal(v)
	require.NoError(t, err)
	return b
}

func TestExecuteAndVerify(t *testing.T) {
	e := newTestEngine(t)

	r, err := e.Execute(context.Background(), ExecRequest{Binary: echo, Inputs: [][]byte{mustEncode(t, "hi")}})
	require.NoError(t, err)
	assert.Equal(t, echo.ImageID(), r.ImageID)
	assert.Empty(t, r.Assumptions)

	var out string
	require.NoError(t, r.DecodeJournal(&out))
	assert.Equal(t, "hi", out)

	require.NoError(t, e.Verify(r, echo.ImageID()))
}

func TestVerifyFailures(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.Execute(context.Background(), ExecRequest{Binary: echo, Inputs: [][]byte{mustEncode(t, "hi")}})
	require.NoError(t, err)

	t.Run("wrong image", func(t *testing.T) {
		err := e.Verify(r, ir.GuestFingerprint("other", "1"))
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})
	t.Run("tampered journal", func(t *testing.T) {
		c := *r
		c.Journal = mustEncode(t, "ho")
		assert.ErrorIs(t, e.Verify(&c, echo.ImageID()), ErrVerificationFailed)
	})
	t.Run("flipped seal bit", func(t *testing.T) {
		c := *r
		c.Seal = append([]byte(nil), r.Seal...)
		c.Seal[10] ^= 0x01
		assert.ErrorIs(t, e.Verify(&c, echo.ImageID()), ErrVerificationFailed)
	})
	t.Run("short seal", func(t *testing.T) {
		c := *r
		c.Seal = r.Seal[:5]
		assert.ErrorIs(t, e.Verify(&c, echo.ImageID()), ErrVerificationFailed)
	})
	t.Run("other key", func(t *testing.T) {
		other, err := NewLocalEngine(testSeed(9), nil)
		require.NoError(t, err)
		assert.ErrorIs(t, other.Verify(r, echo.ImageID()), ErrVerificationFailed)
	})
	t.Run("nil", func(t *testing.T) {
		assert.ErrorIs(t, e.Verify(nil, echo.ImageID()), ErrVerificationFailed)
	})
}

func TestAssumptions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	prior, err := e.Execute(ctx, ExecRequest{Binary: echo, Inputs: [][]byte{mustEncode(t, "first")}})
	require.NoError(t, err)

	relies := &Binary{Name: "test.relies", Version: "1", Program: func(env *Env) error {
		if err := env.VerifyAssumptionValue(echo.ImageID(), "first"); err != nil {
			return err
		}
		return env.Commit("second")
	}}

	r, err := e.Execute(ctx, ExecRequest{Binary: relies, Assumptions: []*Receipt{prior}})
	require.NoError(t, err)
	require.Len(t, r.Assumptions, 1)
	assert.Equal(t, prior.Claim(), r.Assumptions[0])
	require.NoError(t, e.Verify(r, relies.ImageID()))

	// guest asks for a claim that was never supplied
	_, err = e.Execute(ctx, ExecRequest{Binary: relies})
	assert.ErrorIs(t, err, ErrAssumptionRejected)

	// supplied receipt does not verify
	forged := *prior
	forged.Journal = mustEncode(t, "forged")
	_, err = e.Execute(ctx, ExecRequest{Binary: relies, Assumptions: []*Receipt{&forged}})
	assert.ErrorIs(t, err, ErrAssumptionRejected)

	_, err = e.Execute(ctx, ExecRequest{Binary: relies, Assumptions: []*Receipt{nil}})
	assert.ErrorIs(t, err, ErrAssumptionRejected)
}

func TestAssumptionSealedIntoReceipt(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	prior, err := e.Execute(ctx, ExecRequest{Binary: echo, Inputs: [][]byte{mustEncode(t, "a")}})
	require.NoError(t, err)

	relies := &Binary{Name: "test.relies", Version: "1", Program: func(env *Env) error {
		if err := env.VerifyAssumptionValue(echo.ImageID(), "a"); err != nil {
			return err
		}
		return env.Commit("b")
	}}
	r, err := e.Execute(ctx, ExecRequest{Binary: relies, Assumptions: []*Receipt{prior}})
	require.NoError(t, err)

	stripped := *r
	stripped.Assumptions = nil
	assert.ErrorIs(t, e.Verify(&stripped, relies.ImageID()), ErrVerificationFailed)
}

func TestGuestFailures(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	boom := errors.New("boom")

	tests := []struct {
		name    string
		program Program
		target  error
	}{
		{"error", func(env *Env) error { return boom }, boom},
		{"panic", func(env *Env) error { panic("bad") }, ErrGuestFailed},
		{"no journal", func(env *Env) error { return nil }, ErrGuestFailed},
		{"missing input", func(env *Env) error {
			var s string
			return env.Read(&s)
		}, ErrNoInput},
		{"double commit", func(env *Env) error {
			if err := env.Commit(1); err != nil {
				return err
			}
			return env.Commit(2)
		}, ErrJournalCommitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(ctx, ExecRequest{Binary: &Binary{Name: "test.fail", Version: "1", Program: tt.program}})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGuestFailed)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	_, err := e.Execute(ctx, ExecRequest{})
	assert.ErrorIs(t, err, ErrGuestFailed)
}

func TestExecuteCancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	b := &Binary{Name: "test.never", Version: "1", Program: func(env *Env) error {
		ran = true
		return env.Commit(0)
	}}
	_, err := e.Execute(ctx, ExecRequest{Binary: b})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestVerifyingEngine(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.Execute(context.Background(), ExecRequest{Binary: echo, Inputs: [][]byte{mustEncode(t, "x")}})
	require.NoError(t, err)

	v := NewVerifyingEngine(e.PublicKey())
	require.NoError(t, v.Verify(r, echo.ImageID()))

	_, err = v.Execute(context.Background(), ExecRequest{Binary: echo})
	assert.ErrorIs(t, err, ErrVerifyOnly)
}

func TestNewLocalEngineSeed(t *testing.T) {
	_, err := NewLocalEngine([]byte{1, 2}, nil)
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = NewLocalEngineFromHex("zz", nil)
	assert.ErrorIs(t, err, ErrInvalidSeed)

	a, err := NewLocalEngineFromHex("0707070707070707070707070707070707070707070707070707070707070707", nil)
	require.NoError(t, err)
	assert.Equal(t, newTestEngine(t).PublicKey(), a.PublicKey())

	seed, err := GenerateSeed()
	require.NoError(t, err)
	assert.Len(t, seed, 32)
}
