package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/session"
	"whiteboard-backend/internal/store"
	"whiteboard-backend/internal/stroke"
)

// received is one decoded server → client frame.
type received struct {
	Event  model.EventName `json:"event"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
}

// recorder is a room.Sender that keeps every frame.
type recorder struct {
	mu     sync.Mutex
	frames []received
	full   bool
	closed bool
}

func (r *recorder) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return room.ErrQueueFull
	}
	var f received
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// take returns and clears the recorded frames.
func (r *recorder) take() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.frames
	r.frames = nil
	return out
}

func events(frames []received) []model.EventName {
	out := make([]model.EventName, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

// mirrorCall records presence mirror traffic.
type mirrorCall struct {
	joined  bool
	boardID model.ID
	userID  string
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
}

func (m *fakeMirror) Joined(_ context.Context, boardID model.ID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{joined: true, boardID: boardID, userID: userID})
	return nil
}

func (m *fakeMirror) Left(_ context.Context, boardID model.ID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{joined: false, boardID: boardID, userID: userID})
	return nil
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Memory
	tracker *presence.Tracker
	engine  *stroke.Engine
	mirror  *fakeMirror
	rooms   *room.Broadcaster
	coord   *session.Coordinator
	disp    *session.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   store.NewMemory(),
		tracker: presence.NewTracker(),
		mirror:  &fakeMirror{},
	}
	h.engine = stroke.New(h.store, stroke.Options{Clock: clock.NewMock()})
	h.coord = session.NewCoordinator(h.tracker, h.store, h.engine, session.Options{
		Mirror: h.mirror,
		Logger: zap.NewNop(),
	})
	h.rooms = room.NewBroadcaster(h.tracker, zap.NewNop())
	h.disp = session.NewDispatcher(h.coord, h.rooms, zap.NewNop(), nil)
	return h
}

func (h *harness) connect(connID, userID string) *recorder {
	r := &recorder{}
	h.disp.Connect(h.ctx, connID, userID, r)
	return r
}

func (h *harness) send(connID, frame string) {
	h.t.Helper()
	require.NoError(h.t, h.disp.Dispatch(h.ctx, connID, []byte(frame)))
}

func (h *harness) join(connID string, boardID model.ID) {
	h.disp.Do(h.ctx, connID, session.JoinBoard{BoardID: boardID})
}

func (h *harness) add(connID string, boardID model.ID, el model.Element) int {
	return h.disp.Do(h.ctx, connID, session.AddElement{BoardID: boardID, Element: el})
}

func (h *harness) elements(boardID model.ID) []model.Element {
	h.t.Helper()
	els, err := h.store.FindElementsByBoard(h.ctx, boardID)
	require.NoError(h.t, err)
	return els
}

func (h *harness) element(boardID, id model.ID) model.Element {
	h.t.Helper()
	el, err := h.store.FindElement(h.ctx, boardID, id)
	require.NoError(h.t, err)
	return el
}

func decodeElements(t *testing.T, f received) []model.Element {
	t.Helper()
	var els []model.Element
	require.NoError(t, json.Unmarshal(f.Data, &els))
	return els
}

func decodePresence(t *testing.T, f received) model.PresenceChange {
	t.Helper()
	var p model.PresenceChange
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p
}
