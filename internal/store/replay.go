package store

import (
	"context"
	"fmt"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// ReceiptVerifier checks a receipt against an expected guest.
// zkvm.Engine satisfies it.
type ReceiptVerifier interface {
	Verify(r *zkvm.Receipt, expected ir.Fingerprint) error
}

// ReplayIssue describes one inconsistency found in a stored chain.
type ReplayIssue struct {
	Round   uint64
	RoundID string
	Message string
}

func (i ReplayIssue) String() string {
	return fmt.Sprintf("round %d (%s): %s", i.Round, shortID(i.RoundID), i.Message)
}

// ReplayResult is the outcome of re-verifying a stored chain.
type ReplayResult struct {
	ChainID string
	Rounds  int
	Valid   bool
	Issues  []ReplayIssue
}

// VerifyChain re-verifies every stored round of a chain from its receipts
// alone. It checks that rounds are contiguous from 1, each receipt verifies
// against its recorded guest, the journal matches the recorded columns
// (including the digest of the recorded rules), each
// round links to the one before it, and membership only grows.
//
// An unknown chain returns ErrNotFound. Integrity failures are reported as
// issues, not errors.
func (s *Store) VerifyChain(ctx context.Context, chainID string, v ReceiptVerifier) (ReplayResult, error) {
	records, err := s.ReadChain(ctx, chainID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("verify chain: %w", err)
	}
	if len(records) == 0 {
		return ReplayResult{}, fmt.Errorf("chain %s: %w", chainID, ErrNotFound)
	}

	result := ReplayResult{ChainID: chainID, Rounds: len(records), Issues: []ReplayIssue{}}
	report := func(rec RoundRecord, format string, args ...any) {
		result.Issues = append(result.Issues, ReplayIssue{
			Round:   rec.Round,
			RoundID: rec.ID,
			Message: fmt.Sprintf(format, args...),
		})
	}

	var prev *conformance.Checkpoint
	var prevReceipt *zkvm.Receipt
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return ReplayResult{}, err
		}

		if want := uint64(i + 1); rec.Round != want {
			report(rec, "expected round %d", want)
		}

		receipt, err := zkvm.DecodeReceipt(rec.Receipt)
		if err != nil {
			report(rec, "receipt: %v", err)
			prev, prevReceipt = nil, nil
			continue
		}
		if err := v.Verify(receipt, rec.ImageID); err != nil {
			report(rec, "receipt: %v", err)
		}

		var journal ir.Journal
		if err := receipt.DecodeJournal(&journal); err != nil {
			report(rec, "journal: %v", err)
			prev, prevReceipt = nil, nil
			continue
		}
		if journal.Result != rec.Result || journal.Metadata != rec.Metadata {
			report(rec, "journal does not match recorded result")
		}

		cp, err := conformance.DecodeCheckpoint(journal.Metadata)
		if err != nil {
			report(rec, "checkpoint: %v", err)
			prev, prevReceipt = nil, nil
			continue
		}
		if cp.ChainID != chainID || cp.Round != rec.Round || cp.ImageID != rec.ImageID {
			report(rec, "checkpoint names chain %s round %d", cp.ChainID, cp.Round)
		}
		if ok, err := cp.Commits(rec.Rules); err != nil || !ok {
			report(rec, "recorded rules do not match the committed rules digest")
		}

		checkLink(rec, receipt, cp, prev, prevReceipt, report)
		prev, prevReceipt = cp, receipt
	}

	result.Valid = len(result.Issues) == 0
	return result, nil
}

func checkLink(rec RoundRecord, receipt *zkvm.Receipt, cp, prev *conformance.Checkpoint,
	prevReceipt *zkvm.Receipt, report func(RoundRecord, string, ...any)) {
	if rec.Round == 1 {
		if rec.PreviousImageID != nil {
			report(rec, "first round records a previous image")
		}
		if len(receipt.Assumptions) != 0 {
			report(rec, "first round carries assumptions")
		}
		return
	}
	if prev == nil {
		// Previous round was already reported unreadable.
		return
	}

	if rec.PreviousImageID == nil || *rec.PreviousImageID != prev.ImageID {
		report(rec, "previous image does not match round %d", prev.Round)
	}

	claim := prevReceipt.Claim()
	found := false
	for _, a := range receipt.Assumptions {
		if a == claim {
			found = true
			break
		}
	}
	if !found {
		report(rec, "receipt does not assume round %d", prev.Round)
	}

	// Membership only grows: every round inserts exactly its own image.
	if !cp.Filter.Contains(prev.ImageID) {
		report(rec, "filter dropped the image of round %d", prev.Round)
	}
	if cp.Filter.Len() != prev.Filter.Len()+1 {
		report(rec, "filter holds %d entries, want %d", cp.Filter.Len(), prev.Filter.Len()+1)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
