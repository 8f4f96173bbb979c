package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRound creates a round record with placeholder receipt bytes.
func createTestRound(t *testing.T, chainID string, round uint64, receipt string) RoundRecord {
	t.Helper()
	img := ir.GuestFingerprint("arith.add", "1")
	var prev *ir.Fingerprint
	if round > 1 {
		prev = &img
	}
	rec, err := NewRoundRecord(chainID, round, img, prev, nil,
		ir.Journal{Result: "5", Metadata: "{}"}, []byte(receipt))
	if err != nil {
		t.Fatalf("NewRoundRecord() failed: %v", err)
	}
	return rec
}

func newTestEngine(t *testing.T) *zkvm.LocalEngine {
	t.Helper()
	e, err := zkvm.NewLocalEngine(make([]byte, 32), nil)
	if err != nil {
		t.Fatalf("NewLocalEngine() failed: %v", err)
	}
	return e
}

// proveChain proves one round per operation and returns the records in
// round order, ready to write.
func proveChain(t *testing.T, e zkvm.Engine, chainID string, ops ...ir.Operation) []RoundRecord {
	t.Helper()
	var (
		out   []RoundRecord
		prior *zkvm.Receipt
		cp    *conformance.Checkpoint
		j     ir.Journal
	)
	for i, op := range ops {
		current := guest.Processing(op).ImageID()
		var md *conformance.Metadata
		if cp == nil {
			var err error
			md, err = conformance.Initial(chainID, current, nil, conformance.DefaultFilterParams())
			if err != nil {
				t.Fatalf("Initial() failed: %v", err)
			}
		} else {
			md = cp.Next(current, nil)
		}

		in := &conformance.PoamInput{ImageID: current, Metadata: md}
		var assumptions []*zkvm.Receipt
		if prior != nil {
			prev := j
			in.PublicData = &prev
			assumptions = []*zkvm.Receipt{prior}
		}
		inputs, err := guest.ProcessingInputs(ir.OperationRequest{A: 6, B: 3, Operation: string(op)}, in)
		if err != nil {
			t.Fatalf("ProcessingInputs() failed: %v", err)
		}
		r, err := e.Execute(context.Background(), zkvm.ExecRequest{
			Binary:      guest.Processing(op),
			Inputs:      inputs,
			Assumptions: assumptions,
		})
		if err != nil {
			t.Fatalf("round %d: Execute() failed: %v", i+1, err)
		}
		if err := r.DecodeJournal(&j); err != nil {
			t.Fatalf("DecodeJournal() failed: %v", err)
		}
		if cp, err = conformance.DecodeCheckpoint(j.Metadata); err != nil {
			t.Fatalf("DecodeCheckpoint() failed: %v", err)
		}
		data, err := r.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary() failed: %v", err)
		}
		rec, err := NewRoundRecord(chainID, md.Round, current, md.PreviousImageID, nil, j, data)
		if err != nil {
			t.Fatalf("NewRoundRecord() failed: %v", err)
		}
		out = append(out, rec)
		prior = r
	}
	return out
}

func writeAll(t *testing.T, s *Store, recs []RoundRecord) {
	t.Helper()
	for _, rec := range recs {
		if _, _, err := s.WriteRound(context.Background(), rec); err != nil {
			t.Fatalf("WriteRound(%d) failed: %v", rec.Round, err)
		}
	}
}
