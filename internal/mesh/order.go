package mesh

import "github.com/isqad/livelook-party/internal/core"

// ShouldInitiate reports whether self sends the offer to other.
//
// Ids are compared as strings and the larger one initiates. The order is
// total and both sides evaluate it the same way, so exactly one side of a
// pair offers.
func ShouldInitiate(self, other core.ParticipantID) bool {
	return self > other
}
