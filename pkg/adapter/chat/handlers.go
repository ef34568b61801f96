package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/relaychat/internal/logger"
	"github.com/marmos91/relaychat/internal/protocol/wire"
	"github.com/marmos91/relaychat/pkg/metrics"
	"github.com/marmos91/relaychat/pkg/rooms"
	"github.com/marmos91/relaychat/pkg/transfer"
)

// allowedExtensions is the fixed allowlist for /sendfile, matched
// case-insensitively.
var allowedExtensions = []string{".txt", ".pdf", ".jpg", ".png", ".mp4"}

// handleJoin places the session in the named room, creating it on first
// join and leaving any previous room first.
func (w *sessionWorker) handleJoin(rawName string) error {
	name := strings.Trim(rawName, " \t\n")

	if name == "" {
		logger.Warn("Empty room name in join", "user", w.sess.Username)
		return w.reply("ERROR Room name cannot be empty")
	}
	if len(name) > rooms.MaxNameLength {
		logger.Warn("Room name too long", "user", w.sess.Username, "room", name)
		return w.reply(fmt.Sprintf("ERROR Room name too long (max %d characters)", rooms.MaxNameLength))
	}
	for _, r := range name {
		if !isAlnum(r) {
			logger.Warn("Invalid room name format", "user", w.sess.Username, "room", name)
			return w.reply("ERROR Room name must be alphanumeric only (no spaces or special characters)")
		}
	}

	current := w.sess.CurrentRoom()
	if current == name {
		return w.reply(fmt.Sprintf("INFO You are already in room '%s'", name))
	}

	// Leave the previous room before joining the new one. The old
	// room's members are notified and the room removed if emptied.
	if current != "" {
		if oldRoom := w.roomByName(current); oldRoom != nil {
			count, remaining, found := oldRoom.Leave(w.sess)
			if found {
				logger.Tag(logger.TagRoom, "User left room",
					"user", w.sess.Username, "room", current, "remaining", count)

				notification := fmt.Sprintf("ROOM_NOTIFICATION %s left the room", w.sess.Username)
				for _, member := range remaining {
					w.notify(member, notification)
				}
			}
			w.removeRoomIfEmpty(current)
		}
		w.sess.SetCurrentRoom("")
	}

	target, created := w.adapter.rooms.GetOrCreate(name)
	if created {
		metrics.RoomCreated(w.adapter.metrics)
		logger.Tag(logger.TagRoom, "Created new room", "room", name)
	}

	count, others, err := target.Join(w.sess)
	if err != nil {
		logger.Warn("Room is full", "user", w.sess.Username, "room", name)
		// A room created by this very join attempt cannot be full, so
		// the target existed before and needs no cleanup here.
		return w.reply(fmt.Sprintf("ERROR Room '%s' is full (%d/%d clients)",
			name, rooms.MaxMembers, rooms.MaxMembers))
	}

	w.sess.SetCurrentRoom(name)

	if err := w.reply(fmt.Sprintf("JOIN_SUCCESS Joined room '%s' (%d/%d clients)",
		name, count, rooms.MaxMembers)); err != nil {
		return err
	}

	notification := fmt.Sprintf("ROOM_NOTIFICATION %s joined the room", w.sess.Username)
	for _, member := range others {
		w.notify(member, notification)
	}

	logger.Tag(logger.TagJoin, "User joined room",
		"user", w.sess.Username, "room", name, "members", count)
	return nil
}

// handleLeave removes the session from its current room.
func (w *sessionWorker) handleLeave() error {
	current := w.sess.CurrentRoom()
	if current == "" {
		logger.Warn("Leave without room", "user", w.sess.Username)
		return w.reply("ERROR You are not in any room")
	}

	room := w.roomByName(current)
	if room == nil {
		// The recorded room vanished; clear the stale reference.
		w.sess.SetCurrentRoom("")
		logger.Warn("Room no longer exists", "user", w.sess.Username, "room", current)
		return w.reply("ERROR Room no longer exists")
	}

	count, remaining, found := room.Leave(w.sess)
	if !found {
		w.sess.SetCurrentRoom("")
		logger.Warn("User was not registered in recorded room",
			"user", w.sess.Username, "room", current)
		return w.reply("ERROR You were not properly registered in the room")
	}

	logger.Tag(logger.TagRoom, "User left room",
		"user", w.sess.Username, "room", current, "remaining", count)

	notification := fmt.Sprintf("ROOM_NOTIFICATION %s left the room", w.sess.Username)
	for _, member := range remaining {
		w.notify(member, notification)
	}

	w.sess.SetCurrentRoom("")

	if err := w.reply(fmt.Sprintf("LEAVE_SUCCESS Left room '%s'", current)); err != nil {
		return err
	}

	w.removeRoomIfEmpty(current)
	logger.Tag(logger.TagLeave, "Leave complete", "user", w.sess.Username, "room", current)
	return nil
}

// handleBroadcast fans a message out to every other member of the
// sender's room.
func (w *sessionWorker) handleBroadcast(rawMessage string) error {
	current := w.sess.CurrentRoom()
	if current == "" {
		logger.Warn("Broadcast without room", "user", w.sess.Username)
		return w.reply("ERROR You must join a room first to broadcast messages")
	}

	room := w.roomByName(current)
	if room == nil {
		w.sess.SetCurrentRoom("")
		logger.Warn("Broadcast to vanished room", "user", w.sess.Username, "room", current)
		return w.reply("ERROR Room no longer exists. Please join a room first.")
	}

	message := strings.Trim(rawMessage, " \t\n\r")
	if message == "" {
		logger.Warn("Empty broadcast message", "user", w.sess.Username)
		return w.reply("ERROR Broadcast message cannot be empty")
	}

	recipients := room.Recipients(w.sess)
	broadcast := fmt.Sprintf("BROADCAST [%s@%s]: %s", w.sess.Username, current, message)

	sent := 0
	for _, member := range recipients {
		if w.notify(member, broadcast) {
			sent++
		}
	}
	metrics.RecordBroadcast(w.adapter.metrics, sent, len(recipients)-sent)

	var confirmation string
	if sent == len(recipients) {
		confirmation = fmt.Sprintf("BROADCAST_SUCCESS Message delivered to %d recipient(s) in room '%s'",
			len(recipients), current)
	} else {
		confirmation = fmt.Sprintf("BROADCAST_PARTIAL Message delivered to %d/%d recipient(s) in room '%s'",
			sent, len(recipients), current)
	}

	logger.Tag(logger.TagBroadcast, "Broadcast",
		"user", w.sess.Username, "room", current, "delivered", sent, "recipients", len(recipients))
	return w.reply(confirmation)
}

// handleWhisper delivers a direct message to one named user.
func (w *sessionWorker) handleWhisper(rawArgs string) error {
	targetName, message, ok := strings.Cut(rawArgs, " ")
	if !ok || targetName == "" {
		logger.Warn("Malformed whisper", "user", w.sess.Username)
		return w.reply("ERROR Usage: /whisper <username> <message>")
	}

	message = strings.TrimLeft(message, " \t")
	if message == "" {
		logger.Warn("Empty whisper message", "user", w.sess.Username)
		return w.reply("ERROR Message cannot be empty")
	}

	if targetName == w.sess.Username {
		logger.Warn("Whisper to self", "user", w.sess.Username)
		return w.reply("ERROR Cannot whisper to yourself")
	}

	target := w.adapter.clients.FindByUsername(targetName)
	if target == nil {
		logger.Warn("Whisper target not found",
			"user", w.sess.Username, "target", targetName)
		return w.reply(fmt.Sprintf("ERROR User '%s' not found or offline", targetName))
	}

	whisper := fmt.Sprintf("WHISPER [%s → %s]: %s", w.sess.Username, targetName, message)
	if err := target.Send(whisper); err != nil {
		logger.Error("Failed to deliver whisper",
			"from", w.sess.Username, "to", targetName, "error", err)
		return w.reply("ERROR Failed to deliver whisper")
	}

	metrics.RecordWhisper(w.adapter.metrics)
	logger.Tag(logger.TagWhisper, "Whisper delivered",
		"from", w.sess.Username, "to", targetName)
	return w.reply(fmt.Sprintf("WHISPER_SENT Whisper sent to %s", targetName))
}

// handleSendfile brokers a bounded file transfer: admission, bulk upload
// from the sender, immediate delivery to the receiver.
func (w *sessionWorker) handleSendfile(rawArgs string) error {
	filename, targetName, ok := strings.Cut(rawArgs, " ")
	if !ok {
		logger.Warn("Malformed sendfile", "user", w.sess.Username)
		return w.reply("ERROR Usage: /sendfile <filename> <username>")
	}

	filename = strings.Trim(filename, " ")
	targetName = strings.Trim(targetName, " ")
	if filename == "" || targetName == "" {
		logger.Warn("Empty sendfile argument", "user", w.sess.Username)
		return w.reply("ERROR Filename and username cannot be empty")
	}

	if !validExtension(filename) {
		logger.Warn("Invalid file extension",
			"user", w.sess.Username, "file", filename)
		return w.reply("ERROR Invalid file type. Allowed: .txt, .pdf, .jpg, .png")
	}

	if targetName == w.sess.Username {
		logger.Warn("Sendfile to self", "user", w.sess.Username)
		return w.reply("ERROR Cannot send file to yourself")
	}

	receiver := w.adapter.clients.FindByUsername(targetName)
	if receiver == nil {
		logger.Warn("Sendfile target not found",
			"user", w.sess.Username, "target", targetName)
		return w.reply(fmt.Sprintf("ERROR User '%s' not found or offline", targetName))
	}

	// Admission happens before any payload byte moves: the queue is
	// global admission control, not a per-connection buffer.
	ticket := transfer.NewTicket(filename, w.sess, receiver)
	if err := w.adapter.queue.TryAdmit(ticket); err != nil {
		logger.Warn("Upload queue full", "user", w.sess.Username, "file", filename)
		return w.reply(fmt.Sprintf("ERROR Upload queue is full (%d/%d). Please try again later.",
			transfer.MaxQueued, transfer.MaxQueued))
	}
	metrics.TransferAdmitted(w.adapter.metrics)
	metrics.SetQueueDepth(w.adapter.metrics, w.adapter.queue.Count())

	defer func() {
		w.adapter.queue.Remove(ticket)
		metrics.SetQueueDepth(w.adapter.metrics, w.adapter.queue.Count())
	}()

	if err := w.reply(wire.UploadRequest(filename, targetName)); err != nil {
		return err
	}

	// The sender now streams the raw payload on this same socket.
	w.sess.SetUploading(true)
	payload, err := w.readBulkPayload()
	w.sess.SetUploading(false)
	if err != nil {
		logger.Error("Failed to receive file data",
			"user", w.sess.Username, "file", filename, "error", err)
		metrics.TransferFailed(w.adapter.metrics)
		if errors.Is(err, wire.ErrPayloadTooLarge) {
			// The oversized payload was never consumed; the session's
			// stream is no longer parseable.
			_ = w.reply("ERROR Failed to receive file data")
			return fmt.Errorf("receive payload: %w", err)
		}
		return w.reply("ERROR Failed to receive file data")
	}
	ticket.Attach(payload)

	logger.Tag(logger.TagSendfile, "Processing transfer",
		"from", w.sess.Username, "to", targetName, "file", filename, "bytes", ticket.Size)

	// Deliver immediately: framed header, then the bulk stream, all
	// under the receiver's send mutex.
	receiver.SetDownloading(true)
	header := wire.DownloadHeader(filename, ticket.Size, w.sess.Username)
	deliverErr := receiver.SendFile(header, ticket.Payload)
	receiver.SetDownloading(false)

	if deliverErr != nil {
		logger.Error("Transfer failed",
			"from", w.sess.Username, "to", targetName, "file", filename, "error", deliverErr)
		metrics.TransferFailed(w.adapter.metrics)
		return w.reply(fmt.Sprintf("FILE_TRANSFER_FAILED Failed to send '%s' to %s",
			filename, targetName))
	}

	metrics.TransferCompleted(w.adapter.metrics, ticket.Size)
	logger.Tag(logger.TagSendfile, "Transfer completed",
		"from", w.sess.Username, "to", targetName, "file", filename, "bytes", ticket.Size)
	return w.reply(fmt.Sprintf("FILE_TRANSFER_SUCCESS File '%s' sent successfully to %s (%d bytes)",
		filename, targetName, ticket.Size))
}

// readBulkPayload reads the sender's bulk stream with no poll: the
// client sends the payload immediately after the upload request, and
// the transfer blocks this worker until it completes.
func (w *sessionWorker) readBulkPayload() ([]byte, error) {
	if err := w.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear read deadline: %w", err)
	}
	return wire.ReadBulk(w.conn, wire.MaxFileSize)
}

// handleExit logs the request; the command loop tears the session down.
func (w *sessionWorker) handleExit() error {
	logger.Tag(logger.TagClient, "User requested exit", "user", w.sess.Username)
	return errSessionExit
}

// validExtension matches the filename suffix against the allowlist,
// case-insensitively.
func validExtension(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
