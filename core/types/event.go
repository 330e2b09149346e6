package types

// Event is the canonical payload emitted for every ledger state change.
// Attribute values are strings so payloads serialise identically across the
// RPC feed and test assertions.
type Event struct {
	Type       string
	Attributes map[string]string
}
