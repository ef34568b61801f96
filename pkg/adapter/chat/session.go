package chat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/relaychat/internal/logger"
	"github.com/marmos91/relaychat/internal/protocol/wire"
	"github.com/marmos91/relaychat/pkg/metrics"
	"github.com/marmos91/relaychat/pkg/registry"
	"github.com/marmos91/relaychat/pkg/rooms"
)

// pollInterval is the read-poll granularity: workers blocked on a read
// wake at least this often to observe the shutdown channel.
const pollInterval = time.Second

// errSessionExit signals an orderly /exit from the command loop.
var errSessionExit = errors.New("session exit")

// errServerShutdown signals that the shutdown channel closed while the
// worker was polling for input.
var errServerShutdown = errors.New("server shutting down")

// sessionWorker drives one connection through the login handshake, the
// command loop, and teardown. All reads from the connection happen on
// this worker; writes to the connection go through the session's send
// mutex and may come from any worker.
type sessionWorker struct {
	adapter *Adapter
	conn    net.Conn

	remoteHost string
	remotePort int

	// sess is nil until the login handshake completes.
	sess *registry.Session
}

func newSessionWorker(a *Adapter, conn net.Conn) *sessionWorker {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	port, _ := strconv.Atoi(portStr)

	return &sessionWorker{
		adapter:    a,
		conn:       conn,
		remoteHost: host,
		remotePort: port,
	}
}

// serve runs the session state machine: AwaitLogin, then Active, then
// Closing. It always leaves the registries consistent and the connection
// closed.
func (w *sessionWorker) serve() {
	if err := w.handleLogin(); err != nil {
		logger.Warn("Login failed",
			"address", w.conn.RemoteAddr(), "error", err)
		w.conn.Close()
		return
	}

	w.commandLoop()
	w.teardown()
}

// handleLogin reads username/working-path pairs until one is accepted.
// On success the session is registered and LOGIN_SUCCESS framed back.
func (w *sessionWorker) handleLogin() error {
	buf := make([]byte, wire.MaxCommandSize)

	for {
		n, err := w.readFramePolled(buf)
		if err != nil {
			return fmt.Errorf("receive username: %w", err)
		}
		username := strings.TrimRight(string(buf[:n]), " \t\n")

		n, err = w.readFramePolled(buf)
		if err != nil {
			return fmt.Errorf("receive working path: %w", err)
		}
		workingPath := strings.TrimRight(string(buf[:n]), " \t\n")

		logger.Tag(logger.TagClient, "Login attempt",
			"user", username, "address", w.conn.RemoteAddr(), "path", workingPath)

		if !validUsername(username) {
			logger.Warn("Invalid username format", "user", username)
			if err := wire.WriteFrameString(w.conn, "Invalid username format"); err != nil {
				return err
			}
			continue
		}

		sess, err := w.adapter.clients.Add(username, w.conn, w.remoteHost, w.remotePort, workingPath)
		if err != nil {
			logger.Warn("Username already taken", "user", username)
			if err := wire.WriteFrameString(w.conn, "Username already taken"); err != nil {
				return err
			}
			continue
		}

		if err := sess.Send(wire.MsgLoginSuccess); err != nil {
			w.adapter.clients.RemoveByUsername(username)
			return fmt.Errorf("confirm login: %w", err)
		}

		w.sess = sess
		metrics.SessionOpened(w.adapter.metrics)
		logger.Tag(logger.TagClient, "User logged in",
			"user", username, "address", w.conn.RemoteAddr())
		return nil
	}
}

// validUsername accepts 1-16 alphanumeric characters.
func validUsername(username string) bool {
	if len(username) == 0 || len(username) > 16 {
		return false
	}
	for _, r := range username {
		if !isAlnum(r) {
			return false
		}
	}
	return true
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// commandLoop reads framed commands until /exit, peer close, an
// unrecoverable I/O error, or shutdown.
func (w *sessionWorker) commandLoop() {
	buf := make([]byte, wire.MaxCommandSize)

	for {
		n, err := w.readFramePolled(buf)
		if err != nil {
			switch {
			case errors.Is(err, errServerShutdown):
				logger.Tag(logger.TagClient, "Session ending for shutdown", "user", w.sess.Username)
			case errors.Is(err, io.EOF):
				logger.Tag(logger.TagClient, "Client disconnected", "user", w.sess.Username)
			default:
				logger.Error("Failed to receive command",
					"user", w.sess.Username, "error", err)
			}
			return
		}
		if n == 0 {
			// Empty frame: permitted ping, nothing to dispatch.
			continue
		}

		command := string(buf[:n])
		logger.Debug("Received command", "user", w.sess.Username, "command", command)

		if err := w.dispatch(command); err != nil {
			if errors.Is(err, errSessionExit) {
				return
			}
			logger.Error("Command failed",
				"user", w.sess.Username, "command", command, "error", err)
			return
		}
	}
}

// readFramePolled reads one framed message with the 1-second poll
// granularity: the 4-byte header is awaited in pollInterval slices so
// the worker observes shutdown promptly, then the payload is read to
// completion without a deadline.
//
// Returns errServerShutdown when the shutdown channel closes while
// waiting for a header, io.EOF on clean peer close before a header, and
// wire.ErrFrameTooLarge on framing violations.
func (w *sessionWorker) readFramePolled(buf []byte) (int, error) {
	var header [4]byte
	read := 0

	for read < len(header) {
		select {
		case <-w.adapter.shutdown:
			return 0, errServerShutdown
		default:
		}

		if err := w.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return 0, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := w.conn.Read(header[read:])
		read += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if err == io.EOF && read == 0 {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("read frame header: %w", err)
		}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return 0, nil
	}
	if int(length) >= len(buf) {
		return 0, fmt.Errorf("%w: %d bytes (buffer %d)", wire.ErrFrameTooLarge, length, len(buf))
	}

	// Payload bytes follow immediately; read them to completion.
	if err := w.conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, fmt.Errorf("clear read deadline: %w", err)
	}
	if _, err := io.ReadFull(w.conn, buf[:length]); err != nil {
		return 0, fmt.Errorf("read frame payload: %w", err)
	}
	return int(length), nil
}

// dispatch routes one command line to its handler. Unknown and blank
// commands get an immediate error reply.
func (w *sessionWorker) dispatch(command string) error {
	switch {
	case command == "":
		return w.reply("ERROR Empty command")
	case strings.HasPrefix(command, "/join "):
		return w.handleJoin(command[len("/join "):])
	case strings.HasPrefix(command, "/leave"):
		return w.handleLeave()
	case strings.HasPrefix(command, "/broadcast "):
		return w.handleBroadcast(command[len("/broadcast "):])
	case strings.HasPrefix(command, "/whisper "):
		return w.handleWhisper(command[len("/whisper "):])
	case strings.HasPrefix(command, "/sendfile "):
		return w.handleSendfile(command[len("/sendfile "):])
	case strings.HasPrefix(command, "/exit"):
		return w.handleExit()
	default:
		logger.Warn("Unknown command", "user", w.sess.Username, "command", command)
		return w.reply("ERROR Unknown command: " + command)
	}
}

// reply frames a message back to this worker's own client. A failed
// reply is unrecoverable for the session.
func (w *sessionWorker) reply(message string) error {
	if err := w.sess.Send(message); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// notify frames a message to another session. Failures are logged and
// swallowed; the recipient's own worker discovers a dead connection.
func (w *sessionWorker) notify(target *registry.Session, message string) bool {
	if err := target.Send(message); err != nil {
		logger.Warn("Failed to deliver message",
			"to", target.Username, "error", err)
		return false
	}
	return true
}

// teardown runs the Closing state: leave the current room with a
// disconnect notification, unregister, close the socket.
func (w *sessionWorker) teardown() {
	w.sess.Deactivate()

	if roomName := w.sess.CurrentRoom(); roomName != "" {
		if room := w.adapter.rooms.Get(roomName); room != nil {
			count, remaining, found := room.Leave(w.sess)
			if found {
				logger.Tag(logger.TagRoom, "Removed user from room on disconnect",
					"user", w.sess.Username, "room", roomName, "remaining", count)

				notification := fmt.Sprintf("ROOM_NOTIFICATION %s disconnected", w.sess.Username)
				for _, member := range remaining {
					w.notify(member, notification)
				}
			}
			w.removeRoomIfEmpty(roomName)
		}
		w.sess.SetCurrentRoom("")
	}

	w.adapter.clients.RemoveByUsername(w.sess.Username)
	metrics.SessionClosed(w.adapter.metrics)

	w.conn.Close()
	logger.Tag(logger.TagClient, "User disconnected",
		"user", w.sess.Username, "address", w.conn.RemoteAddr())
}

// removeRoomIfEmpty deletes the room when its last member is gone; the
// operation that emptied the room is responsible for this call.
func (w *sessionWorker) removeRoomIfEmpty(name string) {
	if w.adapter.rooms.RemoveIfEmpty(name) {
		metrics.RoomRemoved(w.adapter.metrics)
		logger.Tag(logger.TagRoom, "Room removed (empty)", "room", name)
	}
}

// roomByName resolves a room, tolerating concurrent removal.
func (w *sessionWorker) roomByName(name string) *rooms.Room {
	return w.adapter.rooms.Get(name)
}
