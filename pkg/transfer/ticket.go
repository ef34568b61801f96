package transfer

import (
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/relaychat/pkg/registry"
)

// Ticket is one brokered file transfer in flight between two users.
//
// The ticket owns its payload buffer exclusively from the moment the
// payload is attached until the ticket is removed from the queue, at
// which point the buffer returns to the shared pool. Nothing else may
// retain a reference to it.
type Ticket struct {
	// ID identifies the ticket in logs and admin snapshots.
	ID string

	// Filename is the transfer's declared file name.
	Filename string

	// Sender and Receiver are the usernames at each end.
	Sender   string
	Receiver string

	// SenderSession and ReceiverSession are the live sessions; their
	// connection handles are used for abort notifications on shutdown.
	SenderSession   *registry.Session
	ReceiverSession *registry.Session

	// Payload is the buffered file content. Nil until the sender's bulk
	// stream has been fully received.
	Payload []byte

	// Size is the payload byte length.
	Size int

	// CreatedAt records admission time.
	CreatedAt time.Time
}

// NewTicket creates a ticket for an admitted transfer. The payload is
// attached separately once the sender's bulk stream arrives.
func NewTicket(filename string, sender, receiver *registry.Session) *Ticket {
	return &Ticket{
		ID:              uuid.NewString(),
		Filename:        filename,
		Sender:          sender.Username,
		Receiver:        receiver.Username,
		SenderSession:   sender,
		ReceiverSession: receiver,
		CreatedAt:       time.Now(),
	}
}

// Attach transfers ownership of the payload buffer into the ticket.
func (t *Ticket) Attach(payload []byte) {
	t.Payload = payload
	t.Size = len(payload)
}
