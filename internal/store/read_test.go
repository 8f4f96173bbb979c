package store

import (
	"context"
	"errors"
	"testing"
)

func TestReadChain_Empty(t *testing.T) {
	s := createTestStore(t)

	rounds, err := s.ReadChain(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ReadChain() failed: %v", err)
	}
	if rounds == nil {
		t.Error("ReadChain() returned nil, want empty slice")
	}
	if len(rounds) != 0 {
		t.Errorf("len = %d, want 0", len(rounds))
	}
}

func TestReadChain_RoundOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Written out of order; read back by round.
	for _, r := range []uint64{3, 1, 2} {
		if _, _, err := s.WriteRound(ctx, createTestRound(t, "chain-a", r, "r")); err != nil {
			t.Fatalf("WriteRound(%d) failed: %v", r, err)
		}
	}
	if _, _, err := s.WriteRound(ctx, createTestRound(t, "chain-b", 1, "r")); err != nil {
		t.Fatalf("WriteRound() failed: %v", err)
	}

	rounds, err := s.ReadChain(ctx, "chain-a")
	if err != nil {
		t.Fatalf("ReadChain() failed: %v", err)
	}
	if len(rounds) != 3 {
		t.Fatalf("len = %d, want 3", len(rounds))
	}
	for i, r := range rounds {
		if r.Round != uint64(i+1) {
			t.Errorf("rounds[%d].Round = %d, want %d", i, r.Round, i+1)
		}
		if r.ChainID != "chain-a" {
			t.Errorf("rounds[%d].ChainID = %q", i, r.ChainID)
		}
	}
	if rounds[0].PreviousImageID != nil {
		t.Error("round 1 PreviousImageID should be nil")
	}
	if rounds[1].PreviousImageID == nil {
		t.Error("round 2 PreviousImageID should be set")
	}
}

func TestReadRound_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRound(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReadRound_Exists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRound(t, "chain-a", 1, "receipt-bytes")

	if _, _, err := s.WriteRound(ctx, rec); err != nil {
		t.Fatalf("WriteRound() failed: %v", err)
	}

	got, err := s.ReadRound(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ReadRound() failed: %v", err)
	}
	if got.ImageID != rec.ImageID {
		t.Errorf("ImageID = %s, want %s", got.ImageID, rec.ImageID)
	}
	if string(got.Receipt) != "receipt-bytes" {
		t.Errorf("Receipt = %q", got.Receipt)
	}
	if got.Result != "5" || got.Metadata != "{}" {
		t.Errorf("Result, Metadata = %q, %q", got.Result, got.Metadata)
	}
	if got.Rules != nil {
		t.Errorf("Rules = %+v, want nil", got.Rules)
	}
	if got.Seq != 1 {
		t.Errorf("Seq = %d, want 1", got.Seq)
	}
}

func TestLatestRound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestRound(ctx, "chain-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty chain: err = %v, want ErrNotFound", err)
	}

	for r := uint64(1); r <= 4; r++ {
		if _, _, err := s.WriteRound(ctx, createTestRound(t, "chain-a", r, "r")); err != nil {
			t.Fatalf("WriteRound(%d) failed: %v", r, err)
		}
	}

	got, err := s.LatestRound(ctx, "chain-a")
	if err != nil {
		t.Fatalf("LatestRound() failed: %v", err)
	}
	if got.Round != 4 {
		t.Errorf("Round = %d, want 4", got.Round)
	}
}

func TestListChains(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	chains, err := s.ListChains(ctx)
	if err != nil {
		t.Fatalf("ListChains() failed: %v", err)
	}
	if chains == nil || len(chains) != 0 {
		t.Fatalf("ListChains() = %v, want empty slice", chains)
	}

	writes := []struct {
		chain string
		round uint64
	}{{"chain-a", 1}, {"chain-a", 2}, {"chain-b", 1}}
	for _, w := range writes {
		if _, _, err := s.WriteRound(ctx, createTestRound(t, w.chain, w.round, "r")); err != nil {
			t.Fatalf("WriteRound() failed: %v", err)
		}
	}

	chains, err = s.ListChains(ctx)
	if err != nil {
		t.Fatalf("ListChains() failed: %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("len = %d, want 2", len(chains))
	}
	// chain-b was written last
	if chains[0].ChainID != "chain-b" || chains[0].Rounds != 1 {
		t.Errorf("chains[0] = %+v", chains[0])
	}
	if chains[1].ChainID != "chain-a" || chains[1].Rounds != 2 || chains[1].Latest != 2 {
		t.Errorf("chains[1] = %+v", chains[1])
	}
}

func TestReadComposition_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadComposition(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
