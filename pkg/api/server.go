// Package api serves the read-only HTTP admin endpoint: health, Prometheus
// metrics, and JSON snapshots of the live registries.
//
// The endpoint is optional and off by default. It never mutates server
// state; every handler takes a snapshot under the owning registry's lock
// and renders it outside.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/relaychat/internal/logger"
	"github.com/marmos91/relaychat/pkg/registry"
	"github.com/marmos91/relaychat/pkg/rooms"
	"github.com/marmos91/relaychat/pkg/transfer"
)

// Server is the admin HTTP server.
type Server struct {
	port     int
	clients  *registry.Registry
	rooms    *rooms.Registry
	queue    *transfer.Queue
	gatherer prometheus.Gatherer

	httpServer *http.Server
}

// New creates an admin server over the given registries. gatherer may be
// nil to omit the /metrics route.
func New(port int, clients *registry.Registry, roomReg *rooms.Registry, queue *transfer.Queue, gatherer prometheus.Gatherer) *Server {
	return &Server{
		port:     port,
		clients:  clients,
		rooms:    roomReg,
		queue:    queue,
		gatherer: gatherer,
	}
}

// Serve runs the admin endpoint until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/rooms", s.handleRooms)
		r.Get("/clients", s.handleClients)
		r.Get("/transfers", s.handleTransfers)
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Tag(logger.TagServer, "Admin endpoint listening", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin endpoint: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RoomInfo is the JSON snapshot of one room.
type RoomInfo struct {
	Name         string    `json:"name"`
	Members      []string  `json:"members"`
	MemberCount  int       `json:"member_count"`
	Broadcasts   int       `json:"broadcasts"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	out := make([]RoomInfo, 0)
	s.rooms.ForEach(func(room *rooms.Room) {
		broadcasts, lastActivity := room.Stats()
		out = append(out, RoomInfo{
			Name:         room.Name,
			Members:      room.MemberNames(),
			MemberCount:  room.MemberCount(),
			Broadcasts:   broadcasts,
			CreatedAt:    room.CreatedAt,
			LastActivity: lastActivity,
		})
	})
	writeJSON(w, http.StatusOK, out)
}

// ClientInfo is the JSON snapshot of one session.
type ClientInfo struct {
	Username    string    `json:"username"`
	Remote      string    `json:"remote"`
	Room        string    `json:"room,omitempty"`
	LoginTime   time.Time `json:"login_time"`
	Uploading   bool      `json:"uploading"`
	Downloading bool      `json:"downloading"`
}

func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	out := make([]ClientInfo, 0)
	s.clients.ForEach(func(sess *registry.Session) {
		if !sess.Active() {
			return
		}
		out = append(out, ClientInfo{
			Username:    sess.Username,
			Remote:      fmt.Sprintf("%s:%d", sess.RemoteHost, sess.RemotePort),
			Room:        sess.CurrentRoom(),
			LoginTime:   sess.LoginTime,
			Uploading:   sess.Uploading(),
			Downloading: sess.Downloading(),
		})
	})
	writeJSON(w, http.StatusOK, out)
}

// TransferInfo is the JSON snapshot of one queued transfer.
type TransferInfo struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, _ *http.Request) {
	out := make([]TransferInfo, 0)
	for _, t := range s.queue.Snapshot() {
		out = append(out, TransferInfo{
			ID:        t.ID,
			Filename:  t.Filename,
			Sender:    t.Sender,
			Receiver:  t.Receiver,
			Size:      t.Size,
			CreatedAt: t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to encode admin response", "error", err)
	}
}
