// Package chat implements the relaychat TCP adapter: the listener, the
// per-connection session workers, and the command handlers that route
// broadcast, whisper, and file-transfer traffic between sessions.
package chat

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/relaychat/internal/logger"
	"github.com/marmos91/relaychat/pkg/metrics"
	"github.com/marmos91/relaychat/pkg/registry"
	"github.com/marmos91/relaychat/pkg/rooms"
	"github.com/marmos91/relaychat/pkg/transfer"
)

// Config holds the chat adapter settings.
//
// Default values (applied by New if zero):
//   - MaxConnections: 0 (unlimited)
//   - ShutdownGrace: 3s
type Config struct {
	// Port is the TCP port to listen on. 0 binds an ephemeral port
	// (tests); the CLI enforces 1-65535.
	Port int

	// MaxConnections limits concurrent client connections. When
	// reached, new connections wait until an existing one closes.
	// 0 means unlimited.
	MaxConnections int

	// ShutdownGrace is how long graceful shutdown waits for session
	// workers to drain before force-closing connections.
	ShutdownGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 3 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("invalid ShutdownGrace %v: must be > 0", c.ShutdownGrace)
	}
	return nil
}

// Adapter is the chat server: it owns the listener, the session and room
// registries, and the transfer queue, and coordinates graceful shutdown
// across all session workers.
//
// Shutdown flow:
//  1. Context cancelled (SIGINT handler cancels it)
//  2. Listener closed; session workers observe the shutdown channel on
//     their next 1-second read poll
//  3. Every active session is sent SERVER_SHUTDOWN
//  4. Every queued transfer's sender and receiver is sent
//     FILE_TRANSFER_ABORT
//  5. Wait up to ShutdownGrace for workers to drain
//  6. Transfer queue drained, payload buffers freed; stragglers
//     force-closed
type Adapter struct {
	config Config

	clients *registry.Registry
	rooms   *rooms.Registry
	queue   *transfer.Queue
	metrics metrics.ChatMetrics

	listener      net.Listener
	listenerMu    sync.RWMutex
	listenerReady chan struct{}

	// activeConns tracks session workers for the shutdown drain.
	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connSemaphore bounds concurrent connections when MaxConnections
	// is set; nil otherwise.
	connSemaphore chan struct{}

	// shutdown is closed by initiateShutdown; session workers poll it.
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// activeConnections maps remote address to net.Conn for forced
	// closure after the grace period.
	activeConnections sync.Map
}

// New creates a chat adapter. Zero config values are replaced with
// defaults; invalid configurations cause a panic (programmer error).
// Pass nil metrics to disable collection with zero overhead.
func New(cfg Config, m metrics.ChatMetrics) *Adapter {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("invalid chat config: %v", err))
	}

	var connSemaphore chan struct{}
	if cfg.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.MaxConnections)
	}

	return &Adapter{
		config:        cfg,
		clients:       registry.New(),
		rooms:         rooms.NewRegistry(),
		queue:         transfer.NewQueue(),
		metrics:       m,
		connSemaphore: connSemaphore,
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
	}
}

// Clients returns the session registry. Used by the admin API for
// read-only snapshots.
func (a *Adapter) Clients() *registry.Registry { return a.clients }

// Rooms returns the room registry.
func (a *Adapter) Rooms() *rooms.Registry { return a.rooms }

// Queue returns the transfer queue.
func (a *Adapter) Queue() *transfer.Queue { return a.queue }

// Serve starts the chat listener and blocks until the context is
// cancelled or an unrecoverable listener error occurs.
//
// Each accepted connection is handed to a fresh session worker. When ctx
// is cancelled, Serve runs the shutdown sequence documented on Adapter
// and returns nil on a clean drain.
func (a *Adapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create chat listener on port %d: %w", a.config.Port, err)
	}

	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()
	close(a.listenerReady)

	logger.Tag(logger.TagServer, "Chat server listening", "port", a.config.Port)

	// Monitor context cancellation separately so the accept loop stays
	// a tight Accept() call.
	go func() {
		<-ctx.Done()
		logger.Tag(logger.TagServer, "Shutdown signal received - initiating graceful shutdown")
		a.initiateShutdown()
	}()

	for {
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if a.connSemaphore != nil {
				<-a.connSemaphore
			}

			select {
			case <-a.shutdown:
				// Expected: the listener was closed by shutdown.
				return a.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection", "error", err)
				continue
			}
		}

		a.activeConns.Add(1)
		a.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		a.activeConnections.Store(connAddr, tcpConn)

		logger.Tag(logger.TagClient, "Connection accepted",
			"address", connAddr, "active", a.connCount.Load())

		worker := newSessionWorker(a, tcpConn)
		go func(addr string) {
			defer func() {
				a.activeConnections.Delete(addr)
				a.activeConns.Done()
				a.connCount.Add(-1)
				if a.connSemaphore != nil {
					<-a.connSemaphore
				}
				logger.Tag(logger.TagClient, "Connection closed",
					"address", addr, "active", a.connCount.Load())
			}()
			worker.serve()
		}(connAddr)
	}
}

// initiateShutdown closes the shutdown channel and the listener. Safe to
// call multiple times; only the first call acts.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)

		a.listenerMu.Lock()
		if a.listener != nil {
			if err := a.listener.Close(); err != nil {
				logger.Debug("Error closing listener", "error", err)
			}
		}
		a.listenerMu.Unlock()
	})
}

// gracefulShutdown runs the drain sequence after the accept loop exits:
// notify sessions, notify transfer peers, wait for workers, drain the
// queue, force-close stragglers.
func (a *Adapter) gracefulShutdown() error {
	active := a.connCount.Load()
	pending := a.queue.Count()
	logger.Tag(logger.TagServer, "Graceful shutdown",
		"active_clients", active, "pending_transfers", pending)

	a.notifyShutdown()
	a.notifyTransferAbort()

	// Wait up to the grace period, polling the worker count once a
	// second so progress shows up in the log.
	deadline := time.Now().Add(a.config.ShutdownGrace)
	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	var drained bool
	for !drained && time.Now().Before(deadline) {
		select {
		case <-done:
			drained = true
		case <-time.After(time.Second):
			logger.Tag(logger.TagServer, "Waiting for clients to disconnect",
				"remaining", a.connCount.Load())
		}
	}

	aborted := a.queue.DrainAndAbort()
	if aborted > 0 {
		logger.Tag(logger.TagFile, "Aborted pending transfers", "count", aborted)
		for i := 0; i < aborted; i++ {
			metrics.TransferAborted(a.metrics)
		}
	}
	metrics.SetQueueDepth(a.metrics, 0)

	if !drained {
		remaining := a.connCount.Load()
		logger.Warn("Shutdown grace exceeded - forcing closure", "remaining", remaining)
		a.forceCloseConnections()
		return fmt.Errorf("shutdown grace exceeded: %d connections force-closed", remaining)
	}

	logger.Tag(logger.TagServer, "Graceful shutdown complete")
	return nil
}

// notifyShutdown sends SERVER_SHUTDOWN to every active session.
func (a *Adapter) notifyShutdown() {
	notified := 0
	a.clients.ForEach(func(s *registry.Session) {
		if !s.Active() {
			return
		}
		if err := s.Send("SERVER_SHUTDOWN Server is shutting down. Please disconnect."); err != nil {
			logger.Warn("Failed to notify client of shutdown",
				"user", s.Username, "error", err)
			return
		}
		notified++
	})
	logger.Tag(logger.TagServer, "Shutdown notification sent", "clients", notified)
}

// notifyTransferAbort tells each queued transfer's sender and receiver
// that their transfer is cancelled.
func (a *Adapter) notifyTransferAbort() {
	for _, t := range a.queue.Snapshot() {
		senderMsg := fmt.Sprintf(
			"FILE_TRANSFER_ABORT Server shutting down - file transfer of '%s' to '%s' cancelled",
			t.Filename, t.Receiver)
		if err := t.SenderSession.Send(senderMsg); err != nil {
			logger.Debug("Failed to notify transfer sender", "user", t.Sender, "error", err)
		}

		receiverMsg := fmt.Sprintf(
			"FILE_TRANSFER_ABORT Server shutting down - incoming file '%s' from '%s' cancelled",
			t.Filename, t.Sender)
		if err := t.ReceiverSession.Send(receiverMsg); err != nil {
			logger.Debug("Failed to notify transfer receiver", "user", t.Receiver, "error", err)
		}

		logger.Tag(logger.TagFile, "Cancelled transfer",
			"file", t.Filename, "from", t.Sender, "to", t.Receiver)
	}
}

// forceCloseConnections closes every tracked connection after the grace
// period expires. Workers stuck in I/O fail out immediately.
func (a *Adapter) forceCloseConnections() {
	closed := 0
	a.activeConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.Close(); err == nil {
				closed++
			}
		}
		return true
	})
	if closed > 0 {
		logger.Tag(logger.TagServer, "Force-closed connections", "count", closed)
	}
}

// Addr returns the listener address once the listener is ready. Blocks
// until Serve has bound the port; used by tests listening on port 0.
func (a *Adapter) Addr() string {
	<-a.listenerReady

	a.listenerMu.RLock()
	defer a.listenerMu.RUnlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ActiveConnections returns the number of live session workers.
func (a *Adapter) ActiveConnections() int32 {
	return a.connCount.Load()
}
