package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainGuest       = "poam/guest/v1"
	DomainRound       = "poam/round/v1"
	DomainComposition = "poam/composition/v1"
	DomainReceipt     = "poam/receipt/v1"
	DomainRules       = "poam/rules/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GuestFingerprint derives the fingerprint of a guest program from its name
// and version. The digest is read as eight little-endian words.
func GuestFingerprint(name, version string) Fingerprint {
	digest := hashWithDomain(DomainGuest, []byte(name+"\x00"+version))
	var fp Fingerprint
	for i := range fp {
		fp[i] = binary.LittleEndian.Uint32(digest[i*4:])
	}
	return fp
}

// ReceiptDigest returns the hex digest identifying a serialized receipt.
func ReceiptDigest(receipt []byte) string {
	sum := hashWithDomain(DomainReceipt, receipt)
	return hex.EncodeToString(sum[:])
}

// RoundID computes the content-addressed ID of a proven round.
// The ID is stable across restarts and replays given the same inputs.
func RoundID(chainID string, round uint64, imageID Fingerprint, receiptDigest string) (string, error) {
	obj := map[string]any{
		"chain_id":       chainID,
		"round":          round,
		"image_id":       imageID.String(),
		"receipt_digest": receiptDigest,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RoundID: failed to marshal: %w", err)
	}

	sum := hashWithDomain(DomainRound, canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CompositionID computes the content-addressed ID of a composite receipt
// from its image ID and the digests of its constituents, in order.
func CompositionID(imageID Fingerprint, constituents []string) (string, error) {
	obj := map[string]any{
		"image_id":     imageID.String(),
		"constituents": constituents,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CompositionID: failed to marshal: %w", err)
	}

	sum := hashWithDomain(DomainComposition, canonical)
	return hex.EncodeToString(sum[:]), nil
}

// RulesDigest returns the hex digest of a rule set, as committed by a
// proving round. Absent rules digest to "", which keeps them distinct
// from an explicit empty set. Rule order is significant.
func RulesDigest(in *RuleInput) (string, error) {
	if in == nil {
		return "", nil
	}
	obj := map[string]any{
		"rules":          canonicalRuleList(in.Rules),
		"ordering_rules": canonicalRuleList(in.OrderingRules),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RulesDigest: failed to marshal: %w", err)
	}

	sum := hashWithDomain(DomainRules, canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalRuleList(rs []Rule) []any {
	out := make([]any, 0, len(rs))
	for _, r := range rs {
		entry := map[string]any{}
		if p := r.Precedence; p != nil {
			body := map[string]any{"preceding": p.Preceding.String()}
			if p.Current != nil {
				body["current"] = p.Current.String()
			}
			entry["precedence"] = body
		}
		if c := r.Cardinality; c != nil {
			candidates := make([]string, len(c.Candidates))
			for i, fp := range c.Candidates {
				candidates[i] = fp.String()
			}
			entry["cardinality"] = map[string]any{
				"candidates": candidates,
				"min":        c.Min,
				"max":        c.Max,
			}
		}
		out = append(out, entry)
	}
	return out
}

// MustRoundID is like RoundID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRoundID(chainID string, round uint64, imageID Fingerprint, receiptDigest string) string {
	id, err := RoundID(chainID, round, imageID, receiptDigest)
	if err != nil {
		panic(err)
	}
	return id
}
