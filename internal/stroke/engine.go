// Package stroke batches freehand drawing input. Point batches are appended
// to an in-memory buffer per drawing, checkpointed to the store on a fixed
// interval and written one final time when the stroke completes.
package stroke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"whiteboard-backend/internal/metrics"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

// DefaultInterval checkpoint period of in-progress strokes.
const DefaultInterval = 5 * time.Second

// MaxCheckpointMisses is how many checkpoints in a row may find no stored
// element before the buffer is dropped. The element may be created after
// its first point batch arrives.
const MaxCheckpointMisses = 12

const (
	triggerCheckpoint = "checkpoint"
	triggerComplete   = "complete"
	triggerShutdown   = "shutdown"
)

// Store is the part of the persistence gateway the engine needs.
type Store interface {
	FindElement(ctx context.Context, boardID, elementID model.ID) (model.Element, error)
	UpdateElement(ctx context.Context, boardID, elementID model.ID, patch model.ElementPatch) (model.Element, error)
}

// Options engine settings. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

type key struct {
	boardID   model.ID
	drawingID model.ID
}

// buffer 진행 중인 획의 누적 포인트
type buffer struct {
	key key

	// flushMu serialises writes of this buffer so an older snapshot can never
	// land after a newer one.
	flushMu sync.Mutex

	mu       sync.Mutex
	points   model.Points
	seeded   bool
	complete bool
	closed   bool   // removed from the engine
	version  uint64 // bumped on every appended batch
	flushed  uint64 // version of the last successful write
	misses   int    // consecutive checkpoints without a stored element
}

// Engine owns every drawing buffer of the process.
type Engine struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	buffers map[key]*buffer

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool
}

// New Engine 생성. Start must be called to run checkpoints.
func New(s Store, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		store:    s,
		clock:    opts.Clock,
		interval: opts.Interval,
		logger:   opts.Logger.Named("stroke"),
		metrics:  opts.Metrics,
		buffers:  make(map[key]*buffer),
	}
}

// Start launches the checkpoint ticker. It is a no-op once started or stopped.
func (e *Engine) Start() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.cancel != nil || e.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, e.clock.Ticker(e.interval))
}

func (e *Engine) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(e.done)
	defer ticker.Stop()

	e.logger.Info("checkpoint loop started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Checkpoint(ctx)
		}
	}
}

// Stop cancels the ticker, waits for a running checkpoint to return and then
// flushes every remaining buffer once.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycle.Lock()
	if e.stopped {
		e.lifecycle.Unlock()
		return nil
	}
	e.stopped = true
	cancel, done := e.cancel, e.done
	e.lifecycle.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	for _, b := range e.snapshot() {
		if err := e.flush(ctx, b, triggerShutdown); err != nil {
			errs = append(errs, err)
			continue
		}
		e.retire(b)
	}
	e.logger.Info("stroke engine stopped", zap.Int("unflushed", len(errs)))
	return errors.Join(errs...)
}

// Append adds a batch of points to the drawing's buffer. The first batch of
// a drawing creates the buffer and seeds it with the points already stored
// on the element. Append never writes to the store. Batches arriving after
// Stop are dropped since no flush would ever write them.
func (e *Engine) Append(ctx context.Context, boardID, drawingID model.ID, points model.Points) {
	k := key{boardID: boardID, drawingID: drawingID}

	e.lifecycle.Lock()
	stopped := e.stopped
	e.lifecycle.Unlock()
	if stopped {
		e.logger.Warn("engine stopped, dropping drawing points",
			zap.String("board_id", boardID.String()), zap.String("drawing_id", drawingID.String()), zap.Int("points", len(points)))
		return
	}

	var b *buffer
	for {
		b = e.acquire(k)
		b.mu.Lock()
		if !b.closed {
			break
		}
		b.mu.Unlock()
	}
	defer b.mu.Unlock()

	if !b.seeded {
		if err := e.seedLocked(ctx, b); err != nil {
			e.logger.Warn("failed to seed drawing, retrying on next flush",
				zap.String("board_id", boardID.String()), zap.String("drawing_id", drawingID.String()), zap.Error(err))
		}
	}
	b.points = append(b.points, points...)
	b.version++
}

// Complete writes the whole stroke synchronously and drops its buffer. If
// the write fails the buffer is kept, marked complete, and retried by the
// next checkpoint. Completing an unknown drawing is a no-op.
func (e *Engine) Complete(ctx context.Context, boardID, drawingID model.ID) error {
	e.mu.Lock()
	b, ok := e.buffers[key{boardID: boardID, drawingID: drawingID}]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.complete = true
	b.mu.Unlock()

	if err := e.flush(ctx, b, triggerComplete); err != nil {
		return err
	}
	e.retire(b)
	e.logger.Debug("drawing completed and saved",
		zap.String("board_id", boardID.String()), zap.String("drawing_id", drawingID.String()))
	return nil
}

// Discard drops the buffer of a drawing without writing it, used when the
// element itself is deleted.
func (e *Engine) Discard(boardID, drawingID model.ID) {
	k := key{boardID: boardID, drawingID: drawingID}

	e.mu.Lock()
	b, ok := e.buffers[k]
	if ok {
		delete(e.buffers, k)
	}
	n := len(e.buffers)
	e.mu.Unlock()

	if ok {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		e.metrics.SetActiveStrokes(n)
	}
}

// Checkpoint writes the accumulated points of every buffer that changed
// since its last write. Buffers whose completion write failed earlier are
// retried and dropped once written. It returns the number of failed writes.
func (e *Engine) Checkpoint(ctx context.Context) int {
	failed := 0
	for _, b := range e.snapshot() {
		if err := e.flush(ctx, b, triggerCheckpoint); err != nil {
			failed++
			continue
		}
		b.mu.Lock()
		done := b.complete
		b.mu.Unlock()
		if done {
			e.retire(b)
		}
	}
	return failed
}

// Points returns a copy of the buffered points of a drawing.
func (e *Engine) Points(boardID, drawingID model.ID) (model.Points, bool) {
	e.mu.Lock()
	b, ok := e.buffers[key{boardID: boardID, drawingID: drawingID}]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.points.Clone(), true
}

// Active returns the number of buffers held in memory.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffers)
}

func (e *Engine) acquire(k key) *buffer {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buffers[k]
	if !ok {
		b = &buffer{key: k}
		e.buffers[k] = b
		e.metrics.SetActiveStrokes(len(e.buffers))
	}
	return b
}

func (e *Engine) snapshot() []*buffer {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*buffer, 0, len(e.buffers))
	for _, b := range e.buffers {
		out = append(out, b)
	}
	return out
}

// seedLocked prepends the stored points of the element. A missing element
// seeds an empty stroke. Caller holds b.mu.
func (e *Engine) seedLocked(ctx context.Context, b *buffer) error {
	el, err := e.store.FindElement(ctx, b.key.boardID, b.key.drawingID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		seeded := make(model.Points, 0, len(el.Points)+len(b.points))
		seeded = append(seeded, el.Points...)
		b.points = append(seeded, b.points...)
	}
	b.seeded = true
	return nil
}

// flush writes the current points of b if they changed since the last write.
func (e *Engine) flush(ctx context.Context, b *buffer, trigger string) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if !b.seeded {
		if err := e.seedLocked(ctx, b); err != nil {
			b.mu.Unlock()
			e.metrics.Flushed(trigger, "error")
			return fmt.Errorf("seed drawing %s: %w", b.key.drawingID, err)
		}
	}
	points, version := b.points.Clone(), b.version
	pending := version != b.flushed
	b.mu.Unlock()

	if !pending {
		return nil
	}

	fields := []zap.Field{
		zap.String("board_id", b.key.boardID.String()),
		zap.String("drawing_id", b.key.drawingID.String()),
		zap.String("trigger", trigger),
		zap.Int("points", len(points)),
	}
	_, err := e.store.UpdateElement(ctx, b.key.boardID, b.key.drawingID, model.PointsPatch(points))
	if errors.Is(err, store.ErrNotFound) {
		e.metrics.Flushed(trigger, "not_found")
		b.mu.Lock()
		b.misses++
		keep := trigger == triggerCheckpoint && !b.complete && b.misses < MaxCheckpointMisses
		b.mu.Unlock()
		if keep {
			e.logger.Debug("drawing element not stored yet, keeping buffer", fields...)
			return nil
		}
		e.logger.Warn("drawing element not found, dropping buffer", fields...)
		e.drop(b)
		return nil
	}
	if err != nil {
		e.metrics.Flushed(trigger, "error")
		e.logger.Error("failed to save drawing", append(fields, zap.Error(err))...)
		return fmt.Errorf("save drawing %s: %w", b.key.drawingID, err)
	}

	b.mu.Lock()
	b.flushed = version
	b.misses = 0
	b.mu.Unlock()
	e.metrics.Flushed(trigger, "ok")
	e.logger.Debug("saved drawing", fields...)
	return nil
}

// retire removes b if nothing was appended after its last write.
func (e *Engine) retire(b *buffer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.version != b.flushed {
		return false
	}
	if e.buffers[b.key] == b {
		delete(e.buffers, b.key)
	}
	b.closed = true
	e.metrics.SetActiveStrokes(len(e.buffers))
	return true
}

func (e *Engine) drop(b *buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.buffers[b.key] == b {
		delete(e.buffers, b.key)
	}
	b.closed = true
	e.metrics.SetActiveStrokes(len(e.buffers))
}
