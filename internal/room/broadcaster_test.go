package room_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/room"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	closed bool
}

func (s *fakeSender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) envelopes(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var env map[string]any
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

// members is a static Membership.
type members map[model.ID][]string

func (m members) Members(boardID model.ID) []string {
	return m[boardID]
}

func TestBroadcaster_Broadcast_IncludesSenderWithOrigin(t *testing.T) {
	a, b, other := &fakeSender{}, &fakeSender{}, &fakeSender{}
	br := room.NewBroadcaster(members{"B1": {"a", "b"}, "B2": {"o"}}, zap.NewNop())
	br.Attach("a", a)
	br.Attach("b", b)
	br.Attach("o", other)

	sent := br.Deliver(room.Broadcast("B1", model.EventElementDeleted, "e1", "a"))

	require.Equal(t, 2, sent)
	for _, s := range []*fakeSender{a, b} {
		envs := s.envelopes(t)
		require.Len(t, envs, 1)
		require.Equal(t, "elementDeleted", envs[0]["event"])
		require.Equal(t, "e1", envs[0]["data"])
		require.Equal(t, "a", envs[0]["origin"])
	}
	require.Empty(t, other.envelopes(t))
}

func TestBroadcaster_Broadcast_Exclude(t *testing.T) {
	a, b := &fakeSender{}, &fakeSender{}
	br := room.NewBroadcaster(members{"B1": {"a", "b"}}, zap.NewNop())
	br.Attach("a", a)
	br.Attach("b", b)

	msg := room.Broadcast("B1", model.EventUserLeft, nil, "a")
	msg.Exclude = "a"

	require.Equal(t, 1, br.Deliver(msg))
	require.Empty(t, a.envelopes(t))
	require.Len(t, b.envelopes(t), 1)
}

func TestBroadcaster_Unicast_HasNoOrigin(t *testing.T) {
	a, b := &fakeSender{}, &fakeSender{}
	br := room.NewBroadcaster(members{"B1": {"a", "b"}}, zap.NewNop())
	br.Attach("a", a)
	br.Attach("b", b)

	sent := br.Deliver(room.Unicast("a", model.EventInitialShapes, []model.Element{}))

	require.Equal(t, 1, sent)
	envs := a.envelopes(t)
	require.Len(t, envs, 1)
	require.Equal(t, "initialShapes", envs[0]["event"])
	require.Equal(t, []any{}, envs[0]["data"])
	require.NotContains(t, envs[0], "origin")
	require.Empty(t, b.envelopes(t))
}

func TestBroadcaster_Deliver_PreservesOrder(t *testing.T) {
	a := &fakeSender{}
	br := room.NewBroadcaster(members{"B1": {"a"}}, zap.NewNop())
	br.Attach("a", a)

	br.Deliver(
		room.Unicast("a", model.EventInitialShapes, []model.Element{}),
		room.Broadcast("B1", model.EventUserJoined, model.PresenceChange{UserID: "u"}, "a"),
		room.Broadcast("B1", model.EventElementAdded, model.Element{ID: "e1"}, "a"),
	)

	envs := a.envelopes(t)
	require.Len(t, envs, 3)
	require.Equal(t, "initialShapes", envs[0]["event"])
	require.Equal(t, "userJoined", envs[1]["event"])
	require.Equal(t, "elementAdded", envs[2]["event"])
}

func TestBroadcaster_QueueFull_ClosesSender(t *testing.T) {
	slow := &fakeSender{err: room.ErrQueueFull}
	fast := &fakeSender{}
	br := room.NewBroadcaster(members{"B1": {"slow", "fast"}}, zap.NewNop())
	br.Attach("slow", slow)
	br.Attach("fast", fast)

	sent := br.Deliver(room.Broadcast("B1", model.EventElementDeleted, "e1", "fast"))

	require.Equal(t, 1, sent)
	require.True(t, slow.closed)
	require.False(t, fast.closed)
}

func TestBroadcaster_SendError_KeepsSender(t *testing.T) {
	broken := &fakeSender{err: errors.New("boom")}
	br := room.NewBroadcaster(members{"B1": {"x"}}, zap.NewNop())
	br.Attach("x", broken)

	require.Zero(t, br.Deliver(room.Unicast("x", model.EventInitialShapes, nil)))
	require.False(t, broken.closed)
}

func TestBroadcaster_DetachedAndUnknownTargets(t *testing.T) {
	a := &fakeSender{}
	br := room.NewBroadcaster(members{"B1": {"a", "ghost"}}, zap.NewNop())
	br.Attach("a", a)
	br.Detach("a")
	br.Detach("a")

	require.Zero(t, br.Deliver(
		room.Broadcast("B1", model.EventElementDeleted, "e1", "a"),
		room.Unicast("ghost", model.EventInitialShapes, nil),
	))
	require.Empty(t, a.envelopes(t))
}

func TestBroadcaster_UnencodableData(t *testing.T) {
	a := &fakeSender{}
	br := room.NewBroadcaster(members{"B1": {"a"}}, zap.NewNop())
	br.Attach("a", a)

	require.Zero(t, br.Deliver(room.Broadcast("B1", model.EventElementAdded, make(chan int), "a")))
	require.Empty(t, a.envelopes(t))
}

func TestBroadcaster_CloseAll(t *testing.T) {
	a, b := &fakeSender{}, &fakeSender{}
	br := room.NewBroadcaster(members{}, zap.NewNop())
	br.Attach("a", a)
	br.Attach("b", b)

	require.Equal(t, 2, br.CloseAll())
	require.True(t, a.closed)
	require.True(t, b.closed)
}
