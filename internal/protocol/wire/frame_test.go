package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Framed Message Tests
// ============================================================================

func TestFrameRoundTrip(t *testing.T) {
	t.Run("SimpleMessage", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrameString(&buf, "LOGIN_SUCCESS"))

		got, err := ReadFrameString(&buf)
		require.NoError(t, err)
		assert.Equal(t, "LOGIN_SUCCESS", got)
	})

	t.Run("HeaderIsBigEndianLength", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrameString(&buf, "hello"))

		raw := buf.Bytes()
		require.Len(t, raw, 4+5)
		assert.Equal(t, uint32(5), binary.BigEndian.Uint32(raw[:4]))
		assert.Equal(t, "hello", string(raw[4:]))
	})

	t.Run("SequentialFrames", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrameString(&buf, "first"))
		require.NoError(t, WriteFrameString(&buf, "second"))

		got, err := ReadFrameString(&buf)
		require.NoError(t, err)
		assert.Equal(t, "first", got)

		got, err = ReadFrameString(&buf)
		require.NoError(t, err)
		assert.Equal(t, "second", got)
	})

	t.Run("UTF8Payload", func(t *testing.T) {
		var buf bytes.Buffer
		message := "WHISPER [alice → bob]: ciao"
		require.NoError(t, WriteFrameString(&buf, message))

		got, err := ReadFrameString(&buf)
		require.NoError(t, err)
		assert.Equal(t, message, got)
	})
}

func TestFrameEdgeCases(t *testing.T) {
	t.Run("ZeroLengthFrameIsNoOp", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, nil))

		dst := make([]byte, 64)
		n, err := ReadFrame(&buf, dst)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ZeroLengthFrameConsumesNothingFurther", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, nil))
		require.NoError(t, WriteFrameString(&buf, "next"))

		dst := make([]byte, 64)
		n, err := ReadFrame(&buf, dst)
		require.NoError(t, err)
		require.Zero(t, n)

		got, err := ReadFrameString(&buf)
		require.NoError(t, err)
		assert.Equal(t, "next", got)
	})

	t.Run("FrameAtBufferLimitRejected", func(t *testing.T) {
		var buf bytes.Buffer
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 64)
		buf.Write(header[:])
		buf.Write(make([]byte, 64))

		dst := make([]byte, 64)
		_, err := ReadFrame(&buf, dst)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("FrameJustUnderBufferLimitAccepted", func(t *testing.T) {
		var buf bytes.Buffer
		payload := bytes.Repeat([]byte{'x'}, 63)
		require.NoError(t, WriteFrame(&buf, payload))

		dst := make([]byte, 64)
		n, err := ReadFrame(&buf, dst)
		require.NoError(t, err)
		assert.Equal(t, payload, dst[:n])
	})

	t.Run("CleanCloseReturnsEOF", func(t *testing.T) {
		dst := make([]byte, 64)
		_, err := ReadFrame(bytes.NewReader(nil), dst)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("TruncatedPayloadIsError", func(t *testing.T) {
		var buf bytes.Buffer
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 10)
		buf.Write(header[:])
		buf.Write([]byte("short"))

		dst := make([]byte, 64)
		_, err := ReadFrame(&buf, dst)
		assert.Error(t, err)
	})
}

// ============================================================================
// Bulk Stream Tests
// ============================================================================

func TestBulkRoundTrip(t *testing.T) {
	t.Run("SmallPayload", func(t *testing.T) {
		payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}

		var buf bytes.Buffer
		require.NoError(t, WriteBulk(&buf, payload))

		got, err := ReadBulk(&buf, MaxFileSize)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("PayloadLargerThanChunk", func(t *testing.T) {
		payload := bytes.Repeat([]byte{0xAB}, ChunkSize*3+17)

		var buf bytes.Buffer
		require.NoError(t, WriteBulk(&buf, payload))

		got, err := ReadBulk(&buf, MaxFileSize)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("ExactlyMaxFileSizeAccepted", func(t *testing.T) {
		payload := make([]byte, MaxFileSize)

		var buf bytes.Buffer
		require.NoError(t, WriteBulk(&buf, payload))

		got, err := ReadBulk(&buf, MaxFileSize)
		require.NoError(t, err)
		assert.Len(t, got, MaxFileSize)
	})

	t.Run("OneByteOverMaxRejected", func(t *testing.T) {
		var buf bytes.Buffer
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], MaxFileSize+1)
		buf.Write(header[:])

		_, err := ReadBulk(&buf, MaxFileSize)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})

	t.Run("SizePrefixIsBigEndian", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteBulk(&buf, []byte("data")))

		raw := buf.Bytes()
		assert.Equal(t, uint32(4), binary.BigEndian.Uint32(raw[:4]))
	})

	t.Run("TruncatedStreamIsError", func(t *testing.T) {
		var buf bytes.Buffer
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 100)
		buf.Write(header[:])
		buf.Write([]byte("not a hundred bytes"))

		_, err := ReadBulk(&buf, MaxFileSize)
		assert.Error(t, err)
	})
}
