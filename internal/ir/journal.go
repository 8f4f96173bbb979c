package ir

// Journal is the public output a processing guest commits: the operation
// result and the metadata the next round needs (a serialized checkpoint).
// Both fields are strings so they can be carried verbatim as public data.
type Journal struct {
	_        struct{} `cbor:",toarray"`
	Result   string   `json:"result"`
	Metadata string   `json:"metadata"`
}

// CompositeJournal is what the composition guest commits: one claim per
// constituent, in input order.
type CompositeJournal struct {
	_      struct{}         `cbor:",toarray"`
	Claims []ConstituentRef `json:"claims"`
}

// ConstituentRef names a constituent of a composition by guest
// fingerprint and the digest of its journal.
type ConstituentRef struct {
	_             struct{}    `cbor:",toarray"`
	ImageID       Fingerprint `json:"image_id"`
	JournalDigest string      `json:"journal_digest"`
}
