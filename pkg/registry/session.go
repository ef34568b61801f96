package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/relaychat/internal/protocol/wire"
)

// Session is the server-side state for one connected, logged-in user.
//
// Per-session fields are written only by the owning connection worker;
// other workers read them tolerantly (a send on a closed connection
// fails and is logged, never fatal to the sender). The room-membership
// slot referencing a session is mutated under the owning room's lock,
// not here.
type Session struct {
	// Username is the unique login name (1-16 alphanumeric characters).
	Username string

	// Conn is the session's TCP connection.
	Conn net.Conn

	// RemoteHost and RemotePort identify the peer endpoint.
	RemoteHost string
	RemotePort int

	// LoginTime records when the login handshake completed.
	LoginTime time.Time

	// WorkingPath is the client-reported working directory. Recorded as
	// opaque metadata; the server assigns it no semantics.
	WorkingPath string

	active      atomic.Bool
	uploading   atomic.Bool
	downloading atomic.Bool

	// roomMu guards currentRoom. The owning worker writes it; fan-out
	// paths never read it (they walk room slots instead).
	roomMu      sync.Mutex
	currentRoom string

	// sendMu serializes all writes to Conn so a bulk file payload can
	// never interleave with a concurrent framed message to the same
	// peer. Leaf lock: nothing else is acquired while held.
	sendMu sync.Mutex
}

// NewSession creates an active session for an accepted, logged-in
// connection.
func NewSession(username string, conn net.Conn, host string, port int, workingPath string) *Session {
	s := &Session{
		Username:    username,
		Conn:        conn,
		RemoteHost:  host,
		RemotePort:  port,
		LoginTime:   time.Now(),
		WorkingPath: workingPath,
	}
	s.active.Store(true)
	return s
}

// Active reports whether the session is still routable. Cleared by the
// owning worker during teardown; fan-out paths skip inactive sessions.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Deactivate marks the session unroutable. Called by the owning worker
// when the session enters teardown.
func (s *Session) Deactivate() {
	s.active.Store(false)
}

// Uploading reports whether the session is mid file upload.
func (s *Session) Uploading() bool {
	return s.uploading.Load()
}

// SetUploading flags a bulk upload in progress on the session's socket.
func (s *Session) SetUploading(v bool) {
	s.uploading.Store(v)
}

// Downloading reports whether the session is mid file download.
func (s *Session) Downloading() bool {
	return s.downloading.Load()
}

// SetDownloading flags a bulk download in progress to the session.
func (s *Session) SetDownloading(v bool) {
	s.downloading.Store(v)
}

// CurrentRoom returns the name of the room the session is in, or "" if
// none.
func (s *Session) CurrentRoom() string {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	return s.currentRoom
}

// SetCurrentRoom records the session's room. Only the owning worker
// calls this; membership itself lives in the room's slot array.
func (s *Session) SetCurrentRoom(name string) {
	s.roomMu.Lock()
	s.currentRoom = name
	s.roomMu.Unlock()
}

// Send writes one framed message to the session's peer under the send
// mutex. Safe to call from any worker.
func (s *Session) Send(message string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return wire.WriteFrameString(s.Conn, message)
}

// SendFile writes a framed download header followed by the bulk payload,
// holding the send mutex for the whole sequence. A concurrent broadcast
// to the same peer queues behind the payload instead of interleaving
// with it.
func (s *Session) SendFile(header string, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := wire.WriteFrameString(s.Conn, header); err != nil {
		return err
	}
	return wire.WriteBulk(s.Conn, payload)
}
