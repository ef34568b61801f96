package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Status tags. Every server reply is a framed string whose first token is
// one of these tags; clients dispatch on the prefix.
const (
	MsgLoginSuccess = "LOGIN_SUCCESS"

	PrefixJoinSuccess      = "JOIN_SUCCESS"
	PrefixLeaveSuccess     = "LEAVE_SUCCESS"
	PrefixBroadcastSuccess = "BROADCAST_SUCCESS"
	PrefixBroadcastPartial = "BROADCAST_PARTIAL"
	PrefixWhisperSent      = "WHISPER_SENT"
	PrefixRoomNotification = "ROOM_NOTIFICATION"
	PrefixBroadcast        = "BROADCAST"
	PrefixWhisper          = "WHISPER"
	PrefixServerShutdown   = "SERVER_SHUTDOWN"
	PrefixTransferSuccess  = "FILE_TRANSFER_SUCCESS"
	PrefixTransferFailed   = "FILE_TRANSFER_FAILED"
	PrefixTransferAbort    = "FILE_TRANSFER_ABORT"
	PrefixInfo             = "INFO"
	PrefixError            = "ERROR"

	prefixUploadRequest = "FILE_UPLOAD_REQUEST:"
	prefixDownload      = "FILE_DOWNLOAD:"
)

// UploadRequest builds the FILE_UPLOAD_REQUEST:<filename>:<target> header
// the server sends to a file sender. The client answers with a bulk
// stream.
func UploadRequest(filename, target string) string {
	return prefixUploadRequest + filename + ":" + target
}

// IsUploadRequest reports whether a framed message is an upload-request
// header.
func IsUploadRequest(msg string) bool {
	return strings.HasPrefix(msg, prefixUploadRequest)
}

// ParseUploadRequest splits a FILE_UPLOAD_REQUEST header into filename
// and target username.
func ParseUploadRequest(msg string) (filename, target string, err error) {
	rest, ok := strings.CutPrefix(msg, prefixUploadRequest)
	if !ok {
		return "", "", fmt.Errorf("not an upload request: %q", msg)
	}
	filename, target, ok = strings.Cut(rest, ":")
	if !ok || filename == "" || target == "" {
		return "", "", fmt.Errorf("malformed upload request: %q", msg)
	}
	return filename, target, nil
}

// DownloadHeader builds the FILE_DOWNLOAD:<filename>:<size>:<sender>
// header the server sends to a file receiver, immediately before the
// bulk stream.
func DownloadHeader(filename string, size int, sender string) string {
	return prefixDownload + filename + ":" + strconv.Itoa(size) + ":" + sender
}

// IsDownloadHeader reports whether a framed message is a download header.
func IsDownloadHeader(msg string) bool {
	return strings.HasPrefix(msg, prefixDownload)
}

// ParseDownloadHeader splits a FILE_DOWNLOAD header into filename,
// declared payload size, and sender username.
func ParseDownloadHeader(msg string) (filename string, size int, sender string, err error) {
	rest, ok := strings.CutPrefix(msg, prefixDownload)
	if !ok {
		return "", 0, "", fmt.Errorf("not a download header: %q", msg)
	}

	// The split assumes the filename contains no ':'. The send path does
	// not reject such filenames; a header built from one fails to parse
	// here or is split into the wrong fields.
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", 0, "", fmt.Errorf("malformed download header: %q", msg)
	}
	size, err = strconv.Atoi(parts[1])
	if err != nil || size < 0 {
		return "", 0, "", fmt.Errorf("malformed download size in %q", msg)
	}
	return parts[0], size, parts[2], nil
}
