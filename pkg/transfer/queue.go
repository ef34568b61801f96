// Package transfer implements the bounded admission queue for brokered
// file transfers.
//
// The queue is global admission control across the whole server, not a
// per-connection buffer: at most MaxQueued transfers may hold payload
// memory at once. A slot is reserved before the sender's payload is
// received, so a full queue rejects the transfer before any bulk bytes
// move. Payload buffer ownership transfers into the ticket on attach and
// back to the buffer pool on removal.
package transfer

import (
	"errors"
	"sync"

	"github.com/marmos91/relaychat/pkg/bufpool"
)

// MaxQueued is the queue capacity: the number of transfers that may be
// in flight server-wide.
const MaxQueued = 5

// ErrQueueFull is returned by TryAdmit when every slot is taken.
var ErrQueueFull = errors.New("transfer queue is full")

// Queue is the bounded transfer queue. One lock guards admission,
// removal, and the shutdown drain; it is a leaf in the server's lock
// order.
type Queue struct {
	mu      sync.Mutex
	tickets []*Ticket
}

// NewQueue creates an empty transfer queue.
func NewQueue() *Queue {
	return &Queue{
		tickets: make([]*Ticket, 0, MaxQueued),
	}
}

// TryAdmit reserves a queue slot for t. Fails with ErrQueueFull when
// MaxQueued transfers are already in flight. The ticket's payload may be
// attached after admission; the slot is held either way until Remove.
func (q *Queue) TryAdmit(t *Ticket) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tickets) >= MaxQueued {
		return ErrQueueFull
	}
	q.tickets = append(q.tickets, t)
	return nil
}

// Remove releases t's slot and returns its payload buffer to the pool.
// Removing a ticket that is no longer queued (already drained by
// shutdown) is a no-op.
func (q *Queue) Remove(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, queued := range q.tickets {
		if queued == t {
			q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
			if t.Payload != nil {
				bufpool.Put(t.Payload)
				t.Payload = nil
				t.Size = 0
			}
			return
		}
	}
}

// Full reports whether the queue is at capacity.
func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tickets) >= MaxQueued
}

// Count returns the number of queued tickets.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tickets)
}

// Snapshot returns the queued tickets at this instant. Shutdown uses the
// snapshot to notify each transfer's sender and receiver before the
// drain.
func (q *Queue) Snapshot() []*Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Ticket, len(q.tickets))
	copy(out, q.tickets)
	return out
}

// DrainAndAbort empties the queue, returning every payload buffer to the
// pool. Returns the number of transfers aborted. After it returns no
// ticket references a payload.
func (q *Queue) DrainAndAbort() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tickets)
	for _, t := range q.tickets {
		if t.Payload != nil {
			bufpool.Put(t.Payload)
			t.Payload = nil
			t.Size = 0
		}
	}
	q.tickets = q.tickets[:0]
	return n
}
