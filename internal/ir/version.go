package ir

// Version constants for the wire schema and protocol.
const (
	// IRVersion is the wire schema version.
	IRVersion = "1"

	// ProtocolVersion is the proof chaining protocol version.
	ProtocolVersion = "0.1.0"
)
