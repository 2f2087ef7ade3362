package types

// Identity is the identity provider's handle for a signed-in user. It is
// observed, never mutated, by this module.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
}

// RouteID is a favorite route identifier, normalized to upper case.
type RouteID string

// StationID is a favorite station identifier. Case is preserved.
type StationID string
