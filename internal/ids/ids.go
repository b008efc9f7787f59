// Package ids generates time-ordered unique identifiers for sessions,
// utterances, and wire events. Lexicographic order of the returned strings
// equals creation order, which is an invariant the session/utterance data
// model depends on (see spec.md §3).
package ids

import "github.com/google/uuid"

// New returns a fresh time-ordered unique identifier.
//
// UUIDv7 embeds a millisecond timestamp in its most significant bits, so
// string-sorting ids sorts them by creation time.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the OS RNG is broken; fall back to a
		// random v4 rather than panic, since id uniqueness still holds
		// (only the time-ordering guarantee is lost).
		return uuid.New().String()
	}
	return id.String()
}
