package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isqad/livelook-party/internal/core"
)

func TestShouldInitiate(t *testing.T) {
	assert.True(t, ShouldInitiate("b2", "a1"))
	assert.False(t, ShouldInitiate("a1", "b2"))
	assert.False(t, ShouldInitiate("a1", "a1"))

	ids := []core.ParticipantID{"a1", "b2", "B3", "10", "9", "a1-x"}
	for _, x := range ids {
		for _, y := range ids {
			if x == y {
				continue
			}
			assert.NotEqual(t, ShouldInitiate(x, y), ShouldInitiate(y, x), "%s vs %s", x, y)
		}
	}
}
