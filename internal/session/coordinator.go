package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"whiteboard-backend/internal/metrics"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
)

// Gateway is the persistence the coordinator reads and writes.
type Gateway interface {
	FindElementsByBoard(ctx context.Context, boardID model.ID) ([]model.Element, error)
	FindElement(ctx context.Context, boardID, elementID model.ID) (model.Element, error)
	CreateElement(ctx context.Context, el model.Element) (model.Element, error)
	UpdateElement(ctx context.Context, boardID, elementID model.ID, patch model.ElementPatch) (model.Element, error)
	DeleteElement(ctx context.Context, boardID, elementID model.ID) error
	FindBoard(ctx context.Context, boardID model.ID) (model.Board, error)
	UpdateBoardParticipants(ctx context.Context, boardID model.ID, participants []string) error
}

// Drawings is the stroke batching engine as seen by the coordinator.
type Drawings interface {
	Append(ctx context.Context, boardID, drawingID model.ID, points model.Points)
	Complete(ctx context.Context, boardID, drawingID model.ID) error
	Discard(boardID, drawingID model.ID)
	Points(boardID, drawingID model.ID) (model.Points, bool)
}

// PresenceMirror publishes room presence outside the process. Optional.
type PresenceMirror interface {
	Joined(ctx context.Context, boardID model.ID, userID string) error
	Left(ctx context.Context, boardID model.ID, userID string) error
}

// Outcome is the result of one command: frames to deliver, then work to run
// once they are delivered.
type Outcome struct {
	Messages []room.Message
	Deferred []func(ctx context.Context)
}

func (o *Outcome) send(msgs ...room.Message) {
	o.Messages = append(o.Messages, msgs...)
}

// drop reasons
const (
	reasonInvalid    = "invalid"
	reasonNotJoined  = "not_joined"
	reasonNotFound   = "not_found"
	reasonStoreError = "store_error"
	reasonUnknown    = "unknown_connection"
)

// Coordinator turns commands into state changes and outbound messages. It
// never touches a socket. Handle is not safe for concurrent use; the
// Dispatcher serialises calls.
type Coordinator struct {
	tracker  *presence.Tracker
	gateway  Gateway
	drawings Drawings
	mirror   PresenceMirror
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Options optional collaborators of the Coordinator.
type Options struct {
	Mirror  PresenceMirror
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewCoordinator Coordinator 생성
func NewCoordinator(tracker *presence.Tracker, gateway Gateway, drawings Drawings, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		tracker:  tracker,
		gateway:  gateway,
		drawings: drawings,
		mirror:   opts.Mirror,
		logger:   opts.Logger.Named("session"),
		metrics:  opts.Metrics,
	}
}

// Handle applies cmd for connID.
func (c *Coordinator) Handle(ctx context.Context, connID string, cmd Command) Outcome {
	var out Outcome
	if cmd == nil {
		return out
	}
	switch cmd := cmd.(type) {
	case Connect:
		c.connect(connID, cmd)
		return out
	case Disconnect:
		c.disconnect(ctx, connID, &out)
		return out
	case JoinBoard:
		c.join(ctx, connID, cmd, &out)
	case LeaveBoard:
		c.leave(ctx, connID, cmd, &out)
	case AddElement:
		c.addElement(ctx, connID, cmd, &out)
	case UpdateElement:
		c.updateElement(ctx, connID, cmd, &out)
	case DeleteElement:
		c.deleteElement(ctx, connID, cmd, &out)
	case UpdateDrawing:
		c.updateDrawing(ctx, connID, cmd, &out)
	default:
		c.drop(connID, cmd, reasonInvalid, zap.String("type", "unsupported"))
		return out
	}
	c.metrics.EventHandled(cmd.Event().String())
	return out
}

// ===== Connection lifecycle =====

func (c *Coordinator) connect(connID string, cmd Connect) {
	if !c.tracker.Register(connID, cmd.UserID) {
		c.logger.Warn("connection already registered", zap.String("conn_id", connID))
		return
	}
	c.metrics.ConnectionOpened()
	c.logger.Info("connection registered", zap.String("conn_id", connID), zap.String("user_id", cmd.UserID))
}

func (c *Coordinator) disconnect(ctx context.Context, connID string, out *Outcome) {
	d, existed := c.tracker.Unregister(connID)
	if !existed {
		return
	}
	c.metrics.ConnectionClosed()
	c.logger.Info("connection closed", zap.String("conn_id", connID))
	if d != nil {
		c.departed(ctx, *d, out)
	}
}

// ===== Rooms =====

func (c *Coordinator) join(ctx context.Context, connID string, cmd JoinBoard, out *Outcome) {
	if cmd.BoardID == "" {
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "boardId"))
		return
	}
	conn, ok := c.tracker.Lookup(connID)
	if !ok {
		c.drop(connID, cmd, reasonUnknown)
		return
	}

	// snapshot first: a join that cannot be replayed is not performed
	elements, err := c.gateway.FindElementsByBoard(ctx, cmd.BoardID)
	if err != nil {
		c.logger.Error("failed to load board snapshot",
			zap.String("conn_id", connID), zap.String("board_id", cmd.BoardID.String()), zap.Error(err))
		c.metrics.EventDropped(reasonStoreError)
		return
	}
	elements = c.overlayDrawings(cmd.BoardID, elements)

	if conn.BoardID == cmd.BoardID {
		out.send(room.Unicast(connID, model.EventInitialShapes, elements))
		return
	}

	participants, previous, ok := c.tracker.Join(connID, cmd.BoardID)
	if !ok {
		c.drop(connID, cmd, reasonUnknown)
		return
	}
	if previous != nil {
		c.departed(ctx, *previous, out)
	}

	out.send(room.Unicast(connID, model.EventInitialShapes, elements))

	change := model.PresenceChange{UserID: conn.UserID, BoardID: cmd.BoardID, Participants: participants}
	if !c.tracker.IsFirstConnection(connID) {
		// another tab of a user already in the room
		out.send(room.Unicast(connID, model.EventUserJoined, change))
		return
	}
	c.addParticipant(ctx, cmd.BoardID, conn.UserID)
	out.send(room.Broadcast(cmd.BoardID, model.EventUserJoined, change, connID))
	c.logger.Info("user joined board",
		zap.String("conn_id", connID), zap.String("user_id", conn.UserID),
		zap.String("board_id", cmd.BoardID.String()), zap.Int("elements", len(elements)))
}

func (c *Coordinator) leave(ctx context.Context, connID string, cmd LeaveBoard, out *Outcome) {
	conn, ok := c.tracker.Lookup(connID)
	if !ok || conn.BoardID == "" {
		return
	}
	if cmd.BoardID != "" && cmd.BoardID != conn.BoardID {
		c.drop(connID, cmd, reasonNotJoined, zap.String("board_id", cmd.BoardID.String()))
		return
	}
	if cmd.UserID != "" && cmd.UserID != conn.UserID {
		c.logger.Warn("leaveBoard user does not match connection, using connection user",
			zap.String("conn_id", connID), zap.String("claimed_user_id", cmd.UserID))
	}
	d, ok := c.tracker.Leave(connID)
	if !ok {
		return
	}
	c.departed(ctx, d, out)
}

// departed notifies the room once the user's last connection is gone.
func (c *Coordinator) departed(ctx context.Context, d presence.Departure, out *Outcome) {
	if !d.LastConnection {
		c.logger.Debug("connection left, user still present",
			zap.String("conn_id", d.ConnID), zap.String("board_id", d.BoardID.String()))
		return
	}
	c.removeParticipant(ctx, d.BoardID, d.UserID)
	out.send(room.Broadcast(d.BoardID, model.EventUserLeft, model.PresenceChange{
		UserID:       d.UserID,
		BoardID:      d.BoardID,
		Participants: d.Participants,
	}, d.ConnID))
	c.logger.Info("user left board",
		zap.String("conn_id", d.ConnID), zap.String("user_id", d.UserID), zap.String("board_id", d.BoardID.String()))
}

func (c *Coordinator) addParticipant(ctx context.Context, boardID model.ID, userID string) {
	c.updateParticipants(ctx, boardID, userID, (*model.Board).WithParticipant)
	if c.mirror != nil {
		if err := c.mirror.Joined(ctx, boardID, userID); err != nil {
			c.logger.Warn("failed to mirror presence", zap.String("board_id", boardID.String()), zap.Error(err))
		}
	}
}

func (c *Coordinator) removeParticipant(ctx context.Context, boardID model.ID, userID string) {
	c.updateParticipants(ctx, boardID, userID, (*model.Board).WithoutParticipant)
	if c.mirror != nil {
		if err := c.mirror.Left(ctx, boardID, userID); err != nil {
			c.logger.Warn("failed to mirror presence", zap.String("board_id", boardID.String()), zap.Error(err))
		}
	}
}

// updateParticipants rewrites the persisted participant set. Boards the
// store does not know are skipped; the room still works without one.
func (c *Coordinator) updateParticipants(ctx context.Context, boardID model.ID, userID string, next func(*model.Board, string) []string) {
	fields := []zap.Field{zap.String("board_id", boardID.String()), zap.String("user_id", userID)}

	board, err := c.gateway.FindBoard(ctx, boardID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Debug("board not persisted, skipping participants", fields...)
		return
	}
	if err != nil {
		c.logger.Warn("failed to load board participants", append(fields, zap.Error(err))...)
		return
	}
	if err := c.gateway.UpdateBoardParticipants(ctx, boardID, next(&board, userID)); err != nil {
		c.logger.Warn("failed to save board participants", append(fields, zap.Error(err))...)
	}
}

// overlayDrawings replaces the stored points of strokes still being drawn
// with the buffered ones, so a joiner sees them up to date.
func (c *Coordinator) overlayDrawings(boardID model.ID, elements []model.Element) []model.Element {
	if elements == nil {
		return []model.Element{}
	}
	for i := range elements {
		if points, ok := c.drawings.Points(boardID, elements[i].ID); ok {
			elements[i].Points = points
		}
	}
	return elements
}

// ===== Elements =====

func (c *Coordinator) addElement(ctx context.Context, connID string, cmd AddElement, out *Outcome) {
	el := cmd.Element
	switch {
	case cmd.BoardID == "":
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "boardId"))
		return
	case el.ID == "":
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "element.id"))
		return
	case el.Type == "":
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "element.type"))
		return
	}
	if !c.joined(connID, cmd, cmd.BoardID) {
		return
	}
	el.BoardID = cmd.BoardID

	created, err := c.gateway.CreateElement(ctx, el)
	if errors.Is(err, store.ErrDuplicate) {
		// redelivered add: rebroadcast what is stored, persist nothing
		created, err = c.gateway.FindElement(ctx, cmd.BoardID, el.ID)
	}
	if err != nil {
		c.logger.Error("failed to save element",
			zap.String("conn_id", connID), zap.String("board_id", cmd.BoardID.String()),
			zap.String("element_id", el.ID.String()), zap.Error(err))
		c.metrics.EventDropped(reasonStoreError)
		return
	}
	out.send(room.Broadcast(cmd.BoardID, model.EventElementAdded, created, connID))
}

func (c *Coordinator) updateElement(ctx context.Context, connID string, cmd UpdateElement, out *Outcome) {
	if cmd.BoardID == "" || cmd.ElementID == "" {
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "boardId/element.id"))
		return
	}
	if !c.joined(connID, cmd, cmd.BoardID) {
		return
	}

	updated, err := c.gateway.UpdateElement(ctx, cmd.BoardID, cmd.ElementID, cmd.Patch)
	if errors.Is(err, store.ErrNotFound) {
		c.drop(connID, cmd, reasonNotFound, zap.String("element_id", cmd.ElementID.String()))
		return
	}
	if err != nil {
		c.logger.Error("failed to update element",
			zap.String("conn_id", connID), zap.String("board_id", cmd.BoardID.String()),
			zap.String("element_id", cmd.ElementID.String()), zap.Error(err))
		c.metrics.EventDropped(reasonStoreError)
		return
	}
	out.send(room.Broadcast(cmd.BoardID, model.EventElementUpdated, updated, connID))
}

func (c *Coordinator) deleteElement(ctx context.Context, connID string, cmd DeleteElement, out *Outcome) {
	if cmd.BoardID == "" || cmd.ElementID == "" {
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "boardId/elementId"))
		return
	}
	if !c.joined(connID, cmd, cmd.BoardID) {
		return
	}

	err := c.gateway.DeleteElement(ctx, cmd.BoardID, cmd.ElementID)
	if errors.Is(err, store.ErrNotFound) {
		c.drawings.Discard(cmd.BoardID, cmd.ElementID)
		c.drop(connID, cmd, reasonNotFound, zap.String("element_id", cmd.ElementID.String()))
		return
	}
	if err != nil {
		c.logger.Error("failed to delete element",
			zap.String("conn_id", connID), zap.String("board_id", cmd.BoardID.String()),
			zap.String("element_id", cmd.ElementID.String()), zap.Error(err))
		c.metrics.EventDropped(reasonStoreError)
		return
	}
	c.drawings.Discard(cmd.BoardID, cmd.ElementID)
	out.send(room.Broadcast(cmd.BoardID, model.EventElementDeleted, cmd.ElementID, connID))
}

// ===== Drawings =====

func (c *Coordinator) updateDrawing(ctx context.Context, connID string, cmd UpdateDrawing, out *Outcome) {
	switch {
	case cmd.BoardID == "" || cmd.DrawingID == "":
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "boardId/drawingId"))
		return
	case len(cmd.Points)%2 != 0:
		c.drop(connID, cmd, reasonInvalid, zap.String("field", "points"), zap.Int("len", len(cmd.Points)))
		return
	}
	if !c.joined(connID, cmd, cmd.BoardID) {
		return
	}

	if len(cmd.Points) > 0 {
		c.drawings.Append(ctx, cmd.BoardID, cmd.DrawingID, cmd.Points)
		out.send(room.Broadcast(cmd.BoardID, model.EventDrawingUpdated, model.DrawingUpdate{
			DrawingID: cmd.DrawingID,
			Points:    cmd.Points.Clone(),
		}, connID))
	}
	if !cmd.IsComplete {
		return
	}

	boardID, drawingID := cmd.BoardID, cmd.DrawingID
	out.Deferred = append(out.Deferred, func(ctx context.Context) {
		if err := c.drawings.Complete(ctx, boardID, drawingID); err != nil {
			c.logger.Warn("drawing completion not saved, retrying at next checkpoint",
				zap.String("board_id", boardID.String()), zap.String("drawing_id", drawingID.String()), zap.Error(err))
		}
	})
}

// ===== Helpers =====

// joined reports whether connID is in boardID's room; mutations from outside
// the room are dropped.
func (c *Coordinator) joined(connID string, cmd Command, boardID model.ID) bool {
	conn, ok := c.tracker.Lookup(connID)
	if !ok {
		c.drop(connID, cmd, reasonUnknown)
		return false
	}
	if conn.BoardID != boardID {
		c.drop(connID, cmd, reasonNotJoined, zap.String("board_id", boardID.String()))
		return false
	}
	return true
}

func (c *Coordinator) drop(connID string, cmd Command, reason string, fields ...zap.Field) {
	c.metrics.EventDropped(reason)
	c.logger.Warn("dropped command", append([]zap.Field{
		zap.String("conn_id", connID),
		zap.String("event", cmd.Event().String()),
		zap.String("reason", reason),
	}, fields...)...)
}
