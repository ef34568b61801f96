package transfer

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/relaychat/pkg/bufpool"
	"github.com/marmos91/relaychat/pkg/registry"
)

func testSession(t *testing.T, name string) *registry.Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return registry.NewSession(name, server, "127.0.0.1", 40000, "/tmp")
}

func testTicket(t *testing.T, n int) *Ticket {
	t.Helper()
	sender := testSession(t, fmt.Sprintf("sender%d", n))
	receiver := testSession(t, fmt.Sprintf("receiver%d", n))
	return NewTicket(fmt.Sprintf("file%d.txt", n), sender, receiver)
}

func TestQueueAdmission(t *testing.T) {
	t.Run("AdmitsUpToCapacity", func(t *testing.T) {
		q := NewQueue()
		for i := 0; i < MaxQueued; i++ {
			require.NoError(t, q.TryAdmit(testTicket(t, i)))
		}
		assert.Equal(t, MaxQueued, q.Count())
		assert.True(t, q.Full())
	})

	t.Run("SixthTransferRejected", func(t *testing.T) {
		q := NewQueue()
		for i := 0; i < MaxQueued; i++ {
			require.NoError(t, q.TryAdmit(testTicket(t, i)))
		}

		err := q.TryAdmit(testTicket(t, MaxQueued))
		assert.ErrorIs(t, err, ErrQueueFull)
		assert.Equal(t, MaxQueued, q.Count())
	})

	t.Run("SlotFreedByRemove", func(t *testing.T) {
		q := NewQueue()
		tickets := make([]*Ticket, MaxQueued)
		for i := range tickets {
			tickets[i] = testTicket(t, i)
			require.NoError(t, q.TryAdmit(tickets[i]))
		}

		q.Remove(tickets[2])
		assert.False(t, q.Full())
		assert.NoError(t, q.TryAdmit(testTicket(t, 99)))
	})
}

func TestQueueRemove(t *testing.T) {
	t.Run("ReleasesPayloadBuffer", func(t *testing.T) {
		q := NewQueue()
		ticket := testTicket(t, 0)
		require.NoError(t, q.TryAdmit(ticket))

		ticket.Attach(bufpool.Get(1024))
		require.NotNil(t, ticket.Payload)
		require.Equal(t, 1024, ticket.Size)

		q.Remove(ticket)
		assert.Nil(t, ticket.Payload)
		assert.Zero(t, ticket.Size)
		assert.Zero(t, q.Count())
	})

	t.Run("RemoveUnqueuedTicketIsNoOp", func(t *testing.T) {
		q := NewQueue()
		q.Remove(testTicket(t, 0))
		assert.Zero(t, q.Count())
	})

	t.Run("DoubleRemoveIsNoOp", func(t *testing.T) {
		q := NewQueue()
		ticket := testTicket(t, 0)
		require.NoError(t, q.TryAdmit(ticket))

		q.Remove(ticket)
		q.Remove(ticket)
		assert.Zero(t, q.Count())
	})
}

func TestQueueSnapshot(t *testing.T) {
	q := NewQueue()
	first := testTicket(t, 0)
	second := testTicket(t, 1)
	require.NoError(t, q.TryAdmit(first))
	require.NoError(t, q.TryAdmit(second))

	snapshot := q.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Same(t, first, snapshot[0])
	assert.Same(t, second, snapshot[1])

	// The snapshot is a copy: mutating the queue afterwards does not
	// affect it.
	q.Remove(first)
	assert.Len(t, snapshot, 2)
	assert.Equal(t, 1, q.Count())
}

func TestQueueDrainAndAbort(t *testing.T) {
	q := NewQueue()
	tickets := make([]*Ticket, 3)
	for i := range tickets {
		tickets[i] = testTicket(t, i)
		tickets[i].Attach(bufpool.Get(512))
		require.NoError(t, q.TryAdmit(tickets[i]))
	}

	aborted := q.DrainAndAbort()
	assert.Equal(t, 3, aborted)
	assert.Zero(t, q.Count())
	for _, ticket := range tickets {
		assert.Nil(t, ticket.Payload)
	}

	// Removing a drained ticket afterwards must not double-free.
	q.Remove(tickets[0])
	assert.Zero(t, q.Count())
}

func TestTicketMetadata(t *testing.T) {
	sender := testSession(t, "alice")
	receiver := testSession(t, "bob")
	ticket := NewTicket("doc.pdf", sender, receiver)

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "doc.pdf", ticket.Filename)
	assert.Equal(t, "alice", ticket.Sender)
	assert.Equal(t, "bob", ticket.Receiver)
	assert.Same(t, sender, ticket.SenderSession)
	assert.Same(t, receiver, ticket.ReceiverSession)
	assert.False(t, ticket.CreatedAt.IsZero())
}
