package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/relaychat/pkg/registry"
	"github.com/marmos91/relaychat/pkg/rooms"
	"github.com/marmos91/relaychat/pkg/transfer"
)

func testRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/rooms", s.handleRooms)
	r.Get("/v1/clients", s.handleClients)
	r.Get("/v1/transfers", s.handleTransfers)
	return r
}

func testFixture(t *testing.T) (*Server, *registry.Registry, *rooms.Registry, *transfer.Queue) {
	t.Helper()
	clients := registry.New()
	roomReg := rooms.NewRegistry()
	queue := transfer.NewQueue()
	return New(0, clients, roomReg, queue, nil), clients, roomReg, queue
}

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestHealthz(t *testing.T) {
	s, _, _, _ := testFixture(t)
	h := testRouter(s)

	var body map[string]string
	code := get(t, h, "/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestClientsSnapshot(t *testing.T) {
	s, clients, _, _ := testFixture(t)
	h := testRouter(s)

	t.Run("EmptyRegistry", func(t *testing.T) {
		var body []ClientInfo
		code := get(t, h, "/v1/clients", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Empty(t, body)
	})

	t.Run("ReflectsSessions", func(t *testing.T) {
		sess, err := clients.Add("alice", pipeConn(t), "10.0.0.7", 40000, "/home/alice")
		require.NoError(t, err)
		sess.SetCurrentRoom("room1")

		var body []ClientInfo
		code := get(t, h, "/v1/clients", &body)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, body, 1)
		assert.Equal(t, "alice", body[0].Username)
		assert.Equal(t, "10.0.0.7:40000", body[0].Remote)
		assert.Equal(t, "room1", body[0].Room)
	})

	t.Run("OmitsInactiveSessions", func(t *testing.T) {
		sess, err := clients.Add("bob", pipeConn(t), "10.0.0.8", 40001, "/home/bob")
		require.NoError(t, err)
		sess.Deactivate()

		var body []ClientInfo
		get(t, h, "/v1/clients", &body)
		for _, c := range body {
			assert.NotEqual(t, "bob", c.Username)
		}
	})
}

func TestRoomsSnapshot(t *testing.T) {
	s, _, roomReg, _ := testFixture(t)
	h := testRouter(s)

	room, _ := roomReg.GetOrCreate("den")
	sess := registry.NewSession("alice", pipeConn(t), "10.0.0.7", 40000, "/tmp")
	_, _, err := room.Join(sess)
	require.NoError(t, err)

	var body []RoomInfo
	code := get(t, h, "/v1/rooms", &body)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body, 1)
	assert.Equal(t, "den", body[0].Name)
	assert.Equal(t, 1, body[0].MemberCount)
	assert.Equal(t, []string{"alice"}, body[0].Members)
}

func TestTransfersSnapshot(t *testing.T) {
	s, _, _, queue := testFixture(t)
	h := testRouter(s)

	sender := registry.NewSession("alice", pipeConn(t), "10.0.0.7", 40000, "/tmp")
	receiver := registry.NewSession("bob", pipeConn(t), "10.0.0.8", 40001, "/tmp")
	ticket := transfer.NewTicket("doc.pdf", sender, receiver)
	ticket.Attach([]byte("payload"))
	require.NoError(t, queue.TryAdmit(ticket))

	var body []TransferInfo
	code := get(t, h, "/v1/transfers", &body)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body, 1)
	assert.Equal(t, "doc.pdf", body[0].Filename)
	assert.Equal(t, "alice", body[0].Sender)
	assert.Equal(t, "bob", body[0].Receiver)
	assert.Equal(t, 7, body[0].Size)
}
