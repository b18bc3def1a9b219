package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"whiteboard-backend/internal/metrics"
	"whiteboard-backend/internal/room"
)

// Dispatcher is the single entry point of the transport. Commands from all
// connections are handled one at a time and their messages are handed to
// the broadcaster before the next command runs, so a joiner's snapshot is
// always queued ahead of any later broadcast. Deferred work (final stroke
// writes) runs after the lock is released, on the caller's goroutine.
type Dispatcher struct {
	mu      sync.Mutex
	coord   *Coordinator
	rooms   *room.Broadcaster
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDispatcher Dispatcher 생성
func NewDispatcher(coord *Coordinator, rooms *room.Broadcaster, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		coord:   coord,
		rooms:   rooms,
		logger:  logger.Named("dispatcher"),
		metrics: m,
	}
}

// Connect attaches the sender of a new connection.
func (d *Dispatcher) Connect(ctx context.Context, connID, userID string, s room.Sender) {
	d.mu.Lock()
	d.rooms.Attach(connID, s)
	out := d.coord.Handle(ctx, connID, Connect{UserID: userID})
	d.rooms.Deliver(out.Messages...)
	d.mu.Unlock()

	d.runDeferred(ctx, out)
}

// Dispatch decodes one inbound frame and handles it. Malformed frames are
// logged and returned as errors; they never reach the room.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, frame []byte) error {
	cmd, err := Decode(frame)
	if err != nil {
		d.metrics.EventDropped(reasonInvalid)
		d.logger.Warn("dropped frame", zap.String("conn_id", connID), zap.Error(err))
		return err
	}
	d.Do(ctx, connID, cmd)
	return nil
}

// Do handles an already decoded command and returns the number of frames
// handed to senders.
func (d *Dispatcher) Do(ctx context.Context, connID string, cmd Command) int {
	d.mu.Lock()
	out := d.coord.Handle(ctx, connID, cmd)
	n := d.rooms.Deliver(out.Messages...)
	d.mu.Unlock()

	d.runDeferred(ctx, out)
	return n
}

// Disconnect tears a connection down. Safe to call more than once.
func (d *Dispatcher) Disconnect(ctx context.Context, connID string) {
	d.mu.Lock()
	d.rooms.Detach(connID)
	out := d.coord.Handle(ctx, connID, Disconnect{})
	d.rooms.Deliver(out.Messages...)
	d.mu.Unlock()

	d.runDeferred(ctx, out)
}

// runDeferred outlives the connection that caused the work.
func (d *Dispatcher) runDeferred(ctx context.Context, out Outcome) {
	if len(out.Deferred) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, f := range out.Deferred {
		f(ctx)
	}
}
