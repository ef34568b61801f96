package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/marmos91/relaychat/pkg/bufpool"
)

const (
	// MaxFileSize is the largest accepted bulk payload (3 MiB).
	MaxFileSize = 3 << 20

	// ChunkSize is the write granularity for bulk payload delivery.
	ChunkSize = 4096
)

// ErrPayloadTooLarge is returned when a bulk stream declares a size above
// MaxFileSize.
var ErrPayloadTooLarge = fmt.Errorf("bulk payload exceeds %d bytes", MaxFileSize)

// ReadBulk consumes one bulk stream from r: a 4-byte big-endian size
// followed by exactly that many raw bytes.
//
// The returned buffer comes from the shared buffer pool; ownership
// transfers to the caller, who must return it with bufpool.Put once the
// payload is no longer referenced. Sizes above max are rejected before
// any payload byte is consumed, leaving the stream positioned at the
// undelivered payload (the connection is unrecoverable at that point).
func ReadBulk(r io.Reader, max uint32) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read bulk size: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > max {
		return nil, fmt.Errorf("%w: declared %d", ErrPayloadTooLarge, size)
	}

	payload := bufpool.GetUint32(size)
	if _, err := io.ReadFull(r, payload); err != nil {
		bufpool.Put(payload)
		return nil, fmt.Errorf("read bulk payload: %w", err)
	}
	return payload, nil
}

// WriteBulk writes one bulk stream to w: the 4-byte big-endian size
// followed by the payload in ChunkSize slices.
//
// Chunked writes keep the kernel send buffer from absorbing one huge
// write; callers hold the destination's send mutex for the whole call so
// no framed message can interleave with the payload bytes.
func WriteBulk(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write bulk size: %w", err)
	}

	for off := 0; off < len(payload); off += ChunkSize {
		end := off + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if _, err := w.Write(payload[off:end]); err != nil {
			return fmt.Errorf("write bulk payload at %d: %w", off, err)
		}
	}
	return nil
}
