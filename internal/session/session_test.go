package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/session"
)

func TestSession_Send_QueuesUntilFull(t *testing.T) {
	s := session.New("alice", 2)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Send([]byte("1")))
	require.NoError(t, s.Send([]byte("2")))
	require.ErrorIs(t, s.Send([]byte("3")), room.ErrQueueFull)

	require.Equal(t, []byte("1"), <-s.Outbound())
	require.NoError(t, s.Send([]byte("3")))

	_, out := s.GetStats()
	require.Equal(t, uint64(3), out)
}

func TestSession_Close_IsIdempotent(t *testing.T) {
	s := session.New("alice", 1)
	require.Equal(t, session.StateOpen, s.GetState())
	require.NotEmpty(t, s.ID)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.True(t, s.IsClosed())
	require.Equal(t, "closed", s.GetState().String())
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("context not cancelled on close")
	}

	require.NoError(t, s.Send([]byte("late")), "frames after close are dropped")
	require.Empty(t, s.Outbound())
}

func TestSession_IncrementFramesIn(t *testing.T) {
	s := session.New("alice", 0)
	t.Cleanup(func() { _ = s.Close() })

	s.IncrementFramesIn()
	require.Equal(t, uint64(2), s.IncrementFramesIn())

	in, _ := s.GetStats()
	require.Equal(t, uint64(2), in)
}
