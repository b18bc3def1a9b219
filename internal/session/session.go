package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"whiteboard-backend/internal/room"
)

// State WebSocket 연결 상태
type State int

const (
	StateOpen   State = iota // 연결됨
	StateClosed              // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 클라이언트 세션 (Thread-Safe). It is the room.Sender of one
// websocket: Send only enqueues, a writer goroutine drains Outbound.
type Session struct {
	ID          string
	UserID      string
	State       State
	ConnectedAt time.Time
	FramesIn    uint64
	FramesOut   uint64

	// 동시성 제어
	mu sync.RWMutex

	// 비동기 처리
	outbound chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
}

var _ room.Sender = (*Session)(nil)

// New 새 세션 생성. queueSize bounds the frames waiting for the writer.
func New(userID string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		State:       StateOpen,
		ConnectedAt: time.Now(),
		outbound:    make(chan []byte, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context 세션 컨텍스트 반환. Done once the session is closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Outbound frames waiting to be written to the socket.
func (s *Session) Outbound() <-chan []byte {
	return s.outbound
}

// Send enqueues frame without blocking. A full queue returns
// room.ErrQueueFull; a closed session drops the frame silently.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateClosed {
		return nil
	}
	select {
	case s.outbound <- frame:
		s.FramesOut++
		return nil
	default:
		return room.ErrQueueFull
	}
}

// IncrementFramesIn 수신 프레임 카운트 증가
func (s *Session) IncrementFramesIn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.FramesIn++
	return s.FramesIn
}

// GetStats 통계 조회
func (s *Session) GetStats() (framesIn, framesOut uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.FramesIn, s.FramesOut
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.State
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Close 세션 정리. The outbound channel is left open; writers stop on
// Context().Done().
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateClosed {
		return nil
	}
	s.State = StateClosed
	s.cancel()
	return nil
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.State == StateClosed
}
