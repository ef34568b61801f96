package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server
}

func TestRegistryAdd(t *testing.T) {
	t.Run("AddsNewSession", func(t *testing.T) {
		r := New()
		s, err := r.Add("alice", pipeConn(t), "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)
		require.NotNil(t, s)

		assert.Equal(t, "alice", s.Username)
		assert.True(t, s.Active())
		assert.Equal(t, 1, r.Count())
	})

	t.Run("RejectsDuplicateUsername", func(t *testing.T) {
		r := New()
		_, err := r.Add("alice", pipeConn(t), "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)

		_, err = r.Add("alice", pipeConn(t), "127.0.0.1", 40001, "/tmp")
		assert.ErrorIs(t, err, ErrUsernameTaken)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("DistinctUsernamesCoexist", func(t *testing.T) {
		r := New()
		_, err := r.Add("alice", pipeConn(t), "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)
		_, err = r.Add("bob", pipeConn(t), "127.0.0.1", 40001, "/tmp")
		require.NoError(t, err)

		assert.Equal(t, 2, r.Count())
	})
}

func TestRegistryLookup(t *testing.T) {
	t.Run("FindByUsername", func(t *testing.T) {
		r := New()
		s, err := r.Add("alice", pipeConn(t), "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)

		assert.Same(t, s, r.FindByUsername("alice"))
		assert.Nil(t, r.FindByUsername("bob"))
	})

	t.Run("FindByConn", func(t *testing.T) {
		r := New()
		conn := pipeConn(t)
		s, err := r.Add("alice", conn, "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)

		assert.Same(t, s, r.FindByConn(conn))
		assert.Nil(t, r.FindByConn(pipeConn(t)))
	})

	t.Run("InactiveSessionsAreInvisible", func(t *testing.T) {
		r := New()
		conn := pipeConn(t)
		s, err := r.Add("alice", conn, "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)

		s.Deactivate()
		assert.Nil(t, r.FindByUsername("alice"))
		assert.Nil(t, r.FindByConn(conn))
	})
}

func TestRegistryRemove(t *testing.T) {
	t.Run("RemoveByUsername", func(t *testing.T) {
		r := New()
		_, err := r.Add("alice", pipeConn(t), "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)

		assert.True(t, r.RemoveByUsername("alice"))
		assert.False(t, r.RemoveByUsername("alice"))
		assert.Zero(t, r.Count())
	})

	t.Run("RemoveByConn", func(t *testing.T) {
		r := New()
		conn := pipeConn(t)
		_, err := r.Add("alice", conn, "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)

		assert.True(t, r.RemoveByConn(conn))
		assert.False(t, r.RemoveByConn(conn))
	})

	t.Run("NameReusableAfterRemoval", func(t *testing.T) {
		r := New()
		_, err := r.Add("alice", pipeConn(t), "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)
		require.True(t, r.RemoveByUsername("alice"))

		_, err = r.Add("alice", pipeConn(t), "127.0.0.1", 40001, "/tmp")
		assert.NoError(t, err)
	})
}

func TestRegistryForEach(t *testing.T) {
	r := New()
	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := r.Add(name, pipeConn(t), "127.0.0.1", 40000, "/tmp")
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	r.ForEach(func(s *Session) {
		seen[s.Username] = true
	})
	assert.Len(t, seen, 3)
}

func TestSessionRoomTracking(t *testing.T) {
	s := NewSession("alice", pipeConn(t), "127.0.0.1", 40000, "/tmp")

	assert.Empty(t, s.CurrentRoom())
	s.SetCurrentRoom("room1")
	assert.Equal(t, "room1", s.CurrentRoom())
	s.SetCurrentRoom("")
	assert.Empty(t, s.CurrentRoom())
}

func TestSessionSend(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewSession("alice", server, "127.0.0.1", 40000, "/tmp")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send("WHISPER [bob → alice]: hi")
	}()

	buf := make([]byte, 256)
	header := make([]byte, 4)
	_, err := client.Read(header)
	require.NoError(t, err)

	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "WHISPER [bob → alice]: hi", string(buf[:n]))
	require.NoError(t, <-errCh)
}
