package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	p := NewPath("sessions", "s1").Child("peers", "a1")

	assert.Equal(t, Path("sessions/s1/peers/a1"), p)
	assert.Equal(t, "a1", p.ID())
	assert.Equal(t, Path("sessions/s1/peers"), p.Parent())
	assert.True(t, p.IsDocument())
	assert.False(t, p.Parent().IsDocument())
	assert.Equal(t, []string{"sessions", "s1", "peers", "a1"}, p.Segments())
	assert.Equal(t, Path("sessions"), Path("").Child("sessions"))
}

func TestPathValidate(t *testing.T) {
	t.Run("accepts ids made of safe characters", func(t *testing.T) {
		require.NoError(t, Path("sessions/6f1c9c8e-1b4c-4d43-a1a8-3c0d2b8f7a10").ValidateDocument())
		require.NoError(t, Path("sessions/s_1/peers").ValidateCollection())
	})

	t.Run("rejects separators and wildcards", func(t *testing.T) {
		for _, p := range []Path{"", "sessions//x", "sessions/a.b", "sessions/*", "sessions/a b"} {
			assert.ErrorIs(t, p.Validate(), ErrBadPath, string(p))
		}
	})

	t.Run("rejects the wrong kind", func(t *testing.T) {
		assert.ErrorIs(t, Path("sessions").ValidateDocument(), ErrBadPath)
		assert.ErrorIs(t, Path("sessions/s1").ValidateCollection(), ErrBadPath)
	})
}

func TestLayout(t *testing.T) {
	assert.Equal(t, Path("sessions/s1"), SessionPath("s1"))
	assert.Equal(t, Path("sessions/s1/peers/b2"), PeerPath("s1", "b2"))
	assert.Equal(t, Path("sessions/s1/peers/b2/iceCandidates"), MailboxPath("s1", "b2", ICECandidatesCollection))
	assert.Equal(t, Path("sessions/s1/messages"), MessagesPath("s1"))
}
