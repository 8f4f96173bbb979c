package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/poam/internal/ir"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrRoundConflict is returned when a different round is already
	// recorded at the same (chain_id, round).
	ErrRoundConflict = errors.New("store: round already recorded with different content")
)

// RoundRecord is one proven round.
type RoundRecord struct {
	ID              string
	ChainID         string
	Round           uint64
	ImageID         ir.Fingerprint
	PreviousImageID *ir.Fingerprint
	Rules           *ir.RuleInput
	Result          string
	Metadata        string
	Receipt         []byte
	Seq             int64
}

// CompositionRecord is one composite receipt.
type CompositionRecord struct {
	ID           string
	ImageID      ir.Fingerprint
	Receipt      []byte
	Constituents []string
	Seq          int64
}

// NewRoundRecord fills in the content-addressed ID of a round.
func NewRoundRecord(chainID string, round uint64, imageID ir.Fingerprint, prev *ir.Fingerprint,
	rules *ir.RuleInput, journal ir.Journal, receipt []byte) (RoundRecord, error) {
	id, err := ir.RoundID(chainID, round, imageID, ir.ReceiptDigest(receipt))
	if err != nil {
		return RoundRecord{}, err
	}
	return RoundRecord{
		ID:              id,
		ChainID:         chainID,
		Round:           round,
		ImageID:         imageID,
		PreviousImageID: prev,
		Rules:           rules,
		Result:          journal.Result,
		Metadata:        journal.Metadata,
		Receipt:         receipt,
	}, nil
}

// NewCompositionRecord fills in the content-addressed ID of a composition.
func NewCompositionRecord(imageID ir.Fingerprint, receipt []byte, constituents [][]byte) (CompositionRecord, error) {
	digests := make([]string, len(constituents))
	for i, c := range constituents {
		digests[i] = ir.ReceiptDigest(c)
	}
	id, err := ir.CompositionID(imageID, digests)
	if err != nil {
		return CompositionRecord{}, err
	}
	return CompositionRecord{ID: id, ImageID: imageID, Receipt: receipt, Constituents: digests}, nil
}

// WriteRound appends a round. Writing an identical round again is a no-op
// and reports inserted=false. The assigned seq is returned in both cases.
func (s *Store) WriteRound(ctx context.Context, rec RoundRecord) (seq int64, inserted bool, err error) {
	rulesJSON, err := marshalRules(rec.Rules)
	if err != nil {
		return 0, false, fmt.Errorf("write round: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write round: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existingID string
	var existingSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, seq FROM rounds WHERE chain_id = ? AND round = ?
	`, rec.ChainID, rec.Round).Scan(&existingID, &existingSeq)
	switch {
	case err == nil && existingID == rec.ID:
		return existingSeq, false, nil
	case err == nil:
		return 0, false, fmt.Errorf("write round %s/%d: %w", rec.ChainID, rec.Round, ErrRoundConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("write round: lookup: %w", err)
	}

	seq, err = nextSeq(ctx, tx, "rounds")
	if err != nil {
		return 0, false, fmt.Errorf("write round: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds
		(id, chain_id, round, image_id, previous_image_id, rules, result, metadata, receipt, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.ChainID,
		rec.Round,
		rec.ImageID.String(),
		marshalFingerprint(rec.PreviousImageID),
		rulesJSON,
		rec.Result,
		rec.Metadata,
		rec.Receipt,
		seq,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write round: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write round: commit: %w", err)
	}
	return seq, true, nil
}

// WriteComposition appends a composition. Duplicate IDs are ignored.
func (s *Store) WriteComposition(ctx context.Context, rec CompositionRecord) (seq int64, inserted bool, err error) {
	constituents, err := marshalConstituents(rec.Constituents)
	if err != nil {
		return 0, false, fmt.Errorf("write composition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write composition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	seq, err = nextSeq(ctx, tx, "compositions")
	if err != nil {
		return 0, false, fmt.Errorf("write composition: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO compositions (id, image_id, receipt, constituents, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.ImageID.String(), rec.Receipt, constituents, seq)
	if err != nil {
		return 0, false, fmt.Errorf("write composition: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write composition: rows affected: %w", err)
	}
	if rows == 0 {
		// Already recorded, return its seq
		if err := tx.QueryRowContext(ctx, `SELECT seq FROM compositions WHERE id = ?`, rec.ID).Scan(&seq); err != nil {
			return 0, false, fmt.Errorf("write composition: lookup existing: %w", err)
		}
		return seq, false, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write composition: commit: %w", err)
	}
	return seq, true, nil
}

// nextSeq returns the next logical clock value for table.
func nextSeq(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var seq int64
	q := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s", table)
	if err := tx.QueryRowContext(ctx, q).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}
