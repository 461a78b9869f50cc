package types

// Event represents a typed event emitted during state transitions.
// External systems key off the Type string, so the set of types and their
// attributes form part of the protocol contract.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
