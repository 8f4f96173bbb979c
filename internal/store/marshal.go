package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/poam/internal/ir"
)

// marshalRules converts a rule input to JSON TEXT. Absent rules are NULL,
// which keeps "no rules" distinct from an explicit empty rule set.
func marshalRules(in *ir.RuleInput) (sql.NullString, error) {
	if in == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal rules: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalRules(col sql.NullString) (*ir.RuleInput, error) {
	if !col.Valid {
		return nil, nil
	}
	var in ir.RuleInput
	if err := json.Unmarshal([]byte(col.String), &in); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	return &in, nil
}

func marshalFingerprint(fp *ir.Fingerprint) sql.NullString {
	if fp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fp.String(), Valid: true}
}

func unmarshalFingerprint(col sql.NullString) (*ir.Fingerprint, error) {
	if !col.Valid {
		return nil, nil
	}
	fp, err := ir.ParseFingerprint(col.String)
	if err != nil {
		return nil, fmt.Errorf("unmarshal fingerprint: %w", err)
	}
	return &fp, nil
}

// marshalConstituents stores receipt digests as canonical JSON.
func marshalConstituents(digests []string) (string, error) {
	if digests == nil {
		digests = []string{}
	}
	data, err := ir.MarshalCanonical(digests)
	if err != nil {
		return "", fmt.Errorf("marshal constituents: %w", err)
	}
	return string(data), nil
}

func unmarshalConstituents(data string) ([]string, error) {
	out := []string{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal constituents: %w", err)
	}
	return out, nil
}
