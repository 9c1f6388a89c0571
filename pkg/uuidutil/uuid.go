// Package uuidutil generates identifiers for connections and sessions.
package uuidutil

import "github.com/google/uuid"

// NewV4 generates a random UUID v4 string.
func NewV4() string {
	return uuid.NewString()
}

// Short returns the first eight hex digits of id, for log lines and CLI output.
func Short(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
