package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/metrics"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/server"
	"whiteboard-backend/internal/session"
	"whiteboard-backend/internal/store"
	"whiteboard-backend/internal/stroke"
)

type stack struct {
	srv     *server.Server
	store   *store.Memory
	tracker *presence.Tracker
	rooms   *room.Broadcaster
	ws      *handler.BoardWSHandler
	addr    string
}

func testConfig() *config.Config {
	return &config.Config{
		WebSocket: config.WebSocketConfig{SendQueueSize: 64, WriteTimeout: time.Second},
		CORS:      config.CORSConfig{AllowOrigins: "*", AllowHeaders: "Origin, Content-Type, Accept, Authorization"},
		Sync:      config.SyncConfig{CheckpointInterval: time.Hour, ShutdownTimeout: 5 * time.Second},
		Logging:   config.LoggingConfig{Service: "whiteboard-test"},
	}
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := testConfig()
	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	st := store.NewMemory()
	tracker := presence.NewTracker()
	engine := stroke.New(st, stroke.Options{Interval: cfg.Sync.CheckpointInterval, Logger: log, Metrics: m})
	coord := session.NewCoordinator(tracker, st, engine, session.Options{Logger: log, Metrics: m})
	rooms := room.NewBroadcaster(tracker, log)
	dispatcher := session.NewDispatcher(coord, rooms, log, m)

	ws := handler.NewBoardWSHandler(dispatcher, cfg.WebSocket, log)
	srv := server.New(cfg, server.Handlers{
		BoardWS: ws,
		Board:   handler.NewBoardHandler(st, tracker, nil, log),
		Health:  handler.NewHealthHandler(nil),
	}, reg, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.App().Listener(ln) }()

	engine.Start()
	s := &stack{srv: srv, store: st, tracker: tracker, rooms: rooms, ws: ws, addr: ln.Addr().String()}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
		rooms.CloseAll()
		require.NoError(t, ws.Wait(ctx))
		require.NoError(t, engine.Stop(ctx))
	})
	return s
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *stack) dial(t *testing.T, userID string) *client {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+s.addr+"/ws/boards?userId="+userID, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event model.EventName, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// frame is a decoded server → client envelope.
type frame struct {
	Event  model.EventName `json:"event"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
}

func (c *client) read() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var f frame
	require.NoError(c.t, json.Unmarshal(msg, &f))
	return f
}

func (c *client) expect(event model.EventName) frame {
	c.t.Helper()
	env := c.read()
	require.Equal(c.t, event, env.Event)
	return env
}

func TestServer_BoardSyncOverWebSocket(t *testing.T) {
	s := newStack(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")

	alice.send(model.EventJoinBoard, "B1")
	alice.expect(model.EventInitialShapes)
	alice.expect(model.EventUserJoined)

	alice.send(model.EventAddElement, map[string]any{
		"boardId": "B1",
		"element": map[string]any{"id": "e1", "type": "square", "x": 10, "y": 10, "size": 40},
	})
	added := alice.expect(model.EventElementAdded)
	require.NotEmpty(t, added.Origin)

	bob.send(model.EventJoinBoard, map[string]any{"boardId": "B1"})
	snapshot := bob.expect(model.EventInitialShapes)
	var elements []model.Element
	require.NoError(t, json.Unmarshal(snapshot.Data, &elements))
	require.Len(t, elements, 1)
	require.Equal(t, model.ID("e1"), elements[0].ID)

	joined := bob.expect(model.EventUserJoined)
	var change model.PresenceChange
	require.NoError(t, json.Unmarshal(joined.Data, &change))
	require.Equal(t, []string{"alice", "bob"}, change.Participants)
	alice.expect(model.EventUserJoined)

	bob.send(model.EventAddElement, map[string]any{"boardId": "B1", "element": map[string]any{"id": "d1", "type": "drawing"}})
	bob.expect(model.EventElementAdded)
	alice.expect(model.EventElementAdded)

	bob.send(model.EventUpdateDrawing, map[string]any{"boardId": "B1", "drawingId": "d1", "points": []float64{1, 1, 2, 2}})
	bob.send(model.EventUpdateDrawing, map[string]any{"boardId": "B1", "drawingId": "d1", "points": []float64{3, 3}, "isComplete": true})
	alice.expect(model.EventDrawingUpdated)
	alice.expect(model.EventDrawingUpdated)

	require.Eventually(t, func() bool {
		el, err := s.store.FindElement(context.Background(), "B1", "d1")
		return err == nil && len(el.Points) == 6
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.conn.Close())
	left := alice.expect(model.EventUserLeft)
	require.NoError(t, json.Unmarshal(left.Data, &change))
	require.Equal(t, "bob", change.UserID)
	require.Equal(t, []string{"alice"}, change.Participants)
}

func TestServer_ShutdownWaitsForHandlers(t *testing.T) {
	s := newStack(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")
	alice.send(model.EventJoinBoard, "B1")
	alice.expect(model.EventInitialShapes)
	bob.send(model.EventJoinBoard, "B1")
	bob.expect(model.EventInitialShapes)
	require.Equal(t, 2, s.tracker.Connections())

	require.Equal(t, 2, s.rooms.CloseAll())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.ws.Wait(ctx))
	require.Equal(t, 0, s.tracker.Connections(), "every session disconnected before Wait returns")
}

func TestServer_WebSocketRequiresUser(t *testing.T) {
	s := newStack(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+s.addr+"/ws/boards", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_HTTPRoutes(t *testing.T) {
	s := newStack(t)
	app := s.srv.App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws/boards?userId=alice", nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/boards/B1/elements?userId=alice", nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "whiteboard_session_connections")
}
