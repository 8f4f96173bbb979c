package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/poam/internal/ir"
)

const roundColumns = `id, chain_id, round, image_id, previous_image_id, rules, result, metadata, receipt, seq`

// ReadChain returns every round of a chain in round order.
// Ties (which the UNIQUE constraint forbids) would break on id COLLATE BINARY.
//
// Returns an empty slice (not nil) for unknown chains.
func (s *Store) ReadChain(ctx context.Context, chainID string) ([]RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE chain_id = ?
		ORDER BY round ASC, id COLLATE BINARY ASC
	`, chainID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	out := []RoundRecord{}
	for rows.Next() {
		rec, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}

// ReadRound returns one round by ID.
func (s *Store) ReadRound(ctx context.Context, id string) (RoundRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = ?`, id)
	rec, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RoundRecord{}, fmt.Errorf("round %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// LatestRound returns the highest round recorded for a chain.
func (s *Store) LatestRound(ctx context.Context, chainID string) (RoundRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE chain_id = ?
		ORDER BY round DESC
		LIMIT 1
	`, chainID)
	rec, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RoundRecord{}, fmt.Errorf("chain %s: %w", chainID, ErrNotFound)
	}
	return rec, err
}

// ChainSummary is one line of ListChains.
type ChainSummary struct {
	ChainID string
	Rounds  int
	Latest  uint64
	LastSeq int64
}

// ListChains returns every chain, most recently written first.
func (s *Store) ListChains(ctx context.Context) ([]ChainSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, COUNT(*), MAX(round), MAX(seq)
		FROM rounds
		GROUP BY chain_id
		ORDER BY MAX(seq) DESC, chain_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query chains: %w", err)
	}
	defer rows.Close()

	out := []ChainSummary{}
	for rows.Next() {
		var c ChainSummary
		if err := rows.Scan(&c.ChainID, &c.Rounds, &c.Latest, &c.LastSeq); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chains: %w", err)
	}
	return out, nil
}

// ReadComposition returns one composition by ID.
func (s *Store) ReadComposition(ctx context.Context, id string) (CompositionRecord, error) {
	var (
		rec          CompositionRecord
		imageID      string
		constituents string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, image_id, receipt, constituents, seq FROM compositions WHERE id = ?
	`, id).Scan(&rec.ID, &imageID, &rec.Receipt, &constituents, &rec.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return CompositionRecord{}, fmt.Errorf("composition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return CompositionRecord{}, fmt.Errorf("scan composition: %w", err)
	}

	fp, err := ir.ParseFingerprint(imageID)
	if err != nil {
		return CompositionRecord{}, fmt.Errorf("composition %s: %w", id, err)
	}
	rec.ImageID = fp

	rec.Constituents, err = unmarshalConstituents(constituents)
	if err != nil {
		return CompositionRecord{}, fmt.Errorf("composition %s: %w", id, err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(row scanner) (RoundRecord, error) {
	var (
		rec     RoundRecord
		imageID string
		prev    sql.NullString
		rules   sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&rec.ChainID,
		&rec.Round,
		&imageID,
		&prev,
		&rules,
		&rec.Result,
		&rec.Metadata,
		&rec.Receipt,
		&rec.Seq,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RoundRecord{}, err
		}
		return RoundRecord{}, fmt.Errorf("scan round: %w", err)
	}

	fp, err := ir.ParseFingerprint(imageID)
	if err != nil {
		return RoundRecord{}, fmt.Errorf("round %s: %w", rec.ID, err)
	}
	rec.ImageID = fp

	if rec.PreviousImageID, err = unmarshalFingerprint(prev); err != nil {
		return RoundRecord{}, fmt.Errorf("round %s: %w", rec.ID, err)
	}
	if rec.Rules, err = unmarshalRules(rules); err != nil {
		return RoundRecord{}, fmt.Errorf("round %s: %w", rec.ID, err)
	}
	return rec, nil
}
