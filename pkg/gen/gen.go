// Package gen provides utility functions for generating identifiers.
package gen

import (
	"strings"

	"github.com/google/uuid"
)

const sep = "|"

// Key joins parts with a separator.
func Key(parts ...string) string {
	return strings.Join(parts, sep)
}

// UUIDv5 derives a stable UUID from parts.
func UUIDv5(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(Key(parts...))).String()
}

// ID returns a random UUID.
func ID() string {
	return uuid.NewString()
}
