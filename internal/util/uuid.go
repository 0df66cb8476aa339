package util

import "github.com/google/uuid"

// IDFunc produces unique record identifiers. Services take one so tests can
// supply deterministic ids.
type IDFunc func() string

// NewID returns a random (version 4) UUID string.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s is a well-formed UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
