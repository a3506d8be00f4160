// Package ids generates identifiers for sessions and cell bindings.
package ids

import "github.com/google/uuid"

// Generator produces unique identifiers.
// Implemented by UUIDv7 (production) and testutil.SequentialIDs (tests).
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 strings.
//
// The embedded timestamp makes ids sort by creation time, which keeps log
// lines for one session or binding easy to follow.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the random source fails.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
