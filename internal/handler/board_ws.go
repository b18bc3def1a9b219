package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/session"
)

// BoardWSHandler 보드 실시간 동기화 WebSocket 핸들러
type BoardWSHandler struct {
	dispatcher *session.Dispatcher
	cfg        config.WebSocketConfig
	logger     *zap.Logger

	// conns tracks running connection handlers until their cleanup is done
	conns sync.WaitGroup
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(dispatcher *session.Dispatcher, cfg config.WebSocketConfig, logger *zap.Logger) *BoardWSHandler {
	return &BoardWSHandler{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.Named("ws"),
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok := c.Locals(auth.LocalUserID).(string)
	if !ok || userID == "" {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","data":"invalid session"}`))
		_ = c.Close()
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	// in-flight store calls are not tied to the socket
	ctx := context.Background()

	sess := session.New(userID, h.cfg.SendQueueSize)
	log := h.logger.With(zap.String("conn_id", sess.ID), zap.String("user_id", userID))

	h.dispatcher.Connect(ctx, sess.ID, userID, sess)

	done := make(chan struct{})
	go h.writeLoop(c, sess, log, done)

	// 연결 해제 시 정리
	defer func() {
		h.dispatcher.Disconnect(ctx, sess.ID)
		_ = sess.Close()
		<-done
		framesIn, framesOut := sess.GetStats()
		log.Info("websocket closed",
			zap.Duration("duration", sess.Duration()),
			zap.Uint64("frames_in", framesIn), zap.Uint64("frames_out", framesOut))
	}()

	log.Info("websocket connected")

	// 메시지 수신 루프
	for {
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		sess.IncrementFramesIn()

		// malformed frames are logged by the dispatcher and never answered
		_ = h.dispatcher.Dispatch(ctx, sess.ID, msg)
	}
}

// writeLoop is the only writer of c. It stops when the session is closed,
// either by the read side or by the broadcaster for a full queue, and closes
// the socket so the read loop returns.
func (h *BoardWSHandler) writeLoop(c *websocket.Conn, sess *session.Session, log *zap.Logger, done chan<- struct{}) {
	defer close(done)
	defer func() { _ = c.Close() }()

	for {
		select {
		case <-sess.Context().Done():
			return
		case frame := <-sess.Outbound():
			if h.cfg.WriteTimeout > 0 {
				_ = c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			}
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				_ = sess.Close()
				return
			}
		}
	}
}

// Wait blocks until every connection handler has disconnected its session,
// so no frame is still being dispatched. Call it after the sessions were
// closed.
func (h *BoardWSHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
