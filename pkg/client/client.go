// Package client implements the interactive relaychat terminal client.
//
// The client is a thin shell around the wire protocol: it performs the
// login handshake, then runs a receive pump that renders server frames
// and answers file-transfer headers, while the main goroutine reads
// command lines from the terminal. Only the wire behavior is load
// bearing; the rendering is cosmetic.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"

	"github.com/marmos91/relaychat/internal/protocol/wire"
	"github.com/marmos91/relaychat/pkg/bufpool"
)

// Client is one interactive connection to a relaychat server.
type Client struct {
	conn        net.Conn
	username    string
	workingPath string

	// writeMu serializes frames and bulk uploads on the shared socket:
	// a /broadcast typed mid-upload must not interleave with payload
	// bytes.
	writeMu sync.Mutex

	out io.Writer
}

// Dial connects to the server and returns an un-logged-in client.
func Dial(host string, port int) (*Client, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d: %w", host, port, err)
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	return &Client{
		conn:        conn,
		workingPath: wd,
		out:         os.Stdout,
	}, nil
}

// Login prompts for a username and repeats the handshake until the
// server accepts one.
func (c *Client) Login() error {
	for {
		prompt := promptui.Prompt{
			Label: "Username (1-16 alphanumeric characters)",
		}
		username, err := prompt.Run()
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(username)

		if err := c.sendFrame(username); err != nil {
			return err
		}
		if err := c.sendFrame(c.workingPath); err != nil {
			return err
		}

		reply, err := wire.ReadFrameString(c.conn)
		if err != nil {
			return fmt.Errorf("read login reply: %w", err)
		}

		if reply == wire.MsgLoginSuccess {
			c.username = username
			fmt.Fprintf(c.out, "Logged in as %s\n", username)
			return nil
		}
		fmt.Fprintf(c.out, "Login rejected: %s\n", reply)
	}
}

// Run starts the receive pump and processes terminal commands until
// /exit, EOF on stdin, or server close.
func (c *Client) Run() error {
	done := make(chan error, 1)
	go func() {
		done <- c.receivePump()
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/help" {
				c.printHelp()
				continue
			}

			if err := c.sendFrame(line); err != nil {
				done <- err
				return
			}
			if line == "/exit" || strings.HasPrefix(line, "/exit ") {
				done <- nil
				return
			}
		}
		done <- nil
	}()

	err := c.receiveDone(done)
	c.conn.Close()
	return err
}

func (c *Client) receiveDone(done chan error) error {
	err := <-done
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// receivePump renders incoming frames and reacts to transfer headers.
func (c *Client) receivePump() error {
	buf := make([]byte, wire.MaxCommandSize)

	for {
		n, err := wire.ReadFrame(c.conn, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		message := string(buf[:n])

		switch {
		case wire.IsUploadRequest(message):
			if err := c.handleUploadRequest(message); err != nil {
				fmt.Fprintf(c.out, "Upload failed: %v\n", err)
			}
		case wire.IsDownloadHeader(message):
			if err := c.handleDownload(message); err != nil {
				fmt.Fprintf(c.out, "Download failed: %v\n", err)
			}
		case strings.HasPrefix(message, wire.PrefixServerShutdown):
			fmt.Fprintf(c.out, "%s\n", message)
			return io.EOF
		default:
			fmt.Fprintf(c.out, "%s\n", message)
		}
	}
}

// handleUploadRequest streams the named local file to the server as a
// bulk payload.
func (c *Client) handleUploadRequest(header string) error {
	filename, target, err := wire.ParseUploadRequest(header)
	if err != nil {
		return err
	}

	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.workingPath, filename)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	if len(data) > wire.MaxFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", len(data), wire.MaxFileSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wire.WriteBulk(c.conn, data); err != nil {
		return fmt.Errorf("upload %q: %w", filename, err)
	}

	fmt.Fprintf(c.out, "Uploading '%s' to %s (%d bytes)\n", filename, target, len(data))
	return nil
}

// handleDownload consumes the bulk stream following a FILE_DOWNLOAD
// header and writes it into the working path.
func (c *Client) handleDownload(header string) error {
	filename, size, sender, err := wire.ParseDownloadHeader(header)
	if err != nil {
		return err
	}

	payload, err := wire.ReadBulk(c.conn, wire.MaxFileSize)
	if err != nil {
		return fmt.Errorf("receive %q: %w", filename, err)
	}
	defer bufpool.Put(payload)

	if len(payload) != size {
		return fmt.Errorf("size mismatch for %q: header %d, stream %d", filename, size, len(payload))
	}

	// Keep downloads inside the working path regardless of the sender's
	// filename.
	path := filepath.Join(c.workingPath, filepath.Base(filename))
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("save %q: %w", path, err)
	}

	fmt.Fprintf(c.out, "File received: '%s' from %s (%d bytes) -> %s\n",
		filename, sender, size, path)
	return nil
}

// sendFrame writes one framed message under the socket write mutex.
func (c *Client) sendFrame(message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrameString(c.conn, message)
}

// printHelp renders the local command table. Never touches the wire.
func (c *Client) printHelp() {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Command", "Description"})
	table.SetBorder(false)
	table.AppendBulk([][]string{
		{"/join <room>", "Join (or create) a room"},
		{"/leave", "Leave the current room"},
		{"/broadcast <message>", "Message everyone in the room"},
		{"/whisper <user> <message>", "Direct message one user"},
		{"/sendfile <file> <user>", "Send a file (.txt .pdf .jpg .png .mp4, max 3MB)"},
		{"/exit", "Disconnect"},
		{"/help", "Show this table"},
	})
	table.Render()
}
