// Package wire implements the relaychat control-channel framing and the
// bulk byte-stream format used for file payloads.
//
// Two independent encodings share one TCP socket sequentially:
//
//   - Framed messages: a 4-byte big-endian unsigned length L followed by
//     exactly L bytes of UTF-8 payload. L == 0 is a permitted empty frame
//     (treated as a no-op by callers). There is no terminator on the wire.
//   - Bulk streams: a 4-byte big-endian length followed by that many raw
//     file bytes, used only immediately after a FILE_UPLOAD_REQUEST or
//     FILE_DOWNLOAD framed header.
//
// All reads loop until the full byte count transfers (io.ReadFull); writes
// are issued as a single buffer so a frame appears contiguously on the
// socket. Short reads and EINTR are retried by the runtime; any other I/O
// error makes the connection unrecoverable for the caller.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxCommandSize is the receive buffer size for framed commands.
// Frames whose declared length meets or exceeds the caller's buffer are
// rejected as a fatal framing error.
const MaxCommandSize = 4096

// ErrFrameTooLarge is returned when a frame header declares a length that
// does not fit the caller-supplied buffer.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds receive buffer")

// WriteFrame writes a single framed message: 4-byte big-endian length
// followed by the payload bytes.
//
// The header and payload are written with one Write call so the frame
// cannot interleave with another writer's bytes at the syscall boundary.
// Callers serialize writes to a shared socket with a send mutex.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteFrameString writes a framed UTF-8 message.
func WriteFrameString(w io.Writer, message string) error {
	return WriteFrame(w, []byte(message))
}

// ReadFrame reads one framed message into buf and returns the payload
// length.
//
// Returns (0, nil) for a zero-length frame: the peer sent an empty ping
// and no payload bytes follow. Callers treat it as a no-op.
//
// Returns ErrFrameTooLarge when the declared length is >= len(buf); the
// connection is then in an unrecoverable state because the payload bytes
// were not consumed.
//
// io.EOF is returned unwrapped when the peer closes the connection
// cleanly before the length header, so callers can detect normal
// disconnect.
func ReadFrame(r io.Reader, buf []byte) (int, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return 0, nil
	}
	if int(length) >= len(buf) {
		return 0, fmt.Errorf("%w: %d bytes (buffer %d)", ErrFrameTooLarge, length, len(buf))
	}

	if _, err := io.ReadFull(r, buf[:length]); err != nil {
		return 0, fmt.Errorf("read frame payload: %w", err)
	}
	return int(length), nil
}

// ReadFrameString reads one framed message and returns it as a string.
// A zero-length frame yields ("", nil).
func ReadFrameString(r io.Reader) (string, error) {
	buf := make([]byte, MaxCommandSize)
	n, err := ReadFrame(r, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
