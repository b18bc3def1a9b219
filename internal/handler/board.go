package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
)

// ElementReader 보드 요소 조회
type ElementReader interface {
	FindElementsByBoard(ctx context.Context, boardID model.ID) ([]model.Element, error)
}

// ClusterPresence presence recorded by every instance (the Redis mirror).
type ClusterPresence interface {
	Participants(ctx context.Context, boardID model.ID) ([]string, error)
}

// BoardHandler 보드 조회용 REST 핸들러. Board creation and listing live in
// another service; these endpoints are read-only views of the sync engine.
type BoardHandler struct {
	elements ElementReader
	tracker  *presence.Tracker
	cluster  ClusterPresence
	logger   *zap.Logger
}

// NewBoardHandler BoardHandler 생성. cluster may be nil.
func NewBoardHandler(elements ElementReader, tracker *presence.Tracker, cluster ClusterPresence, logger *zap.Logger) *BoardHandler {
	return &BoardHandler{
		elements: elements,
		tracker:  tracker,
		cluster:  cluster,
		logger:   logger.Named("board"),
	}
}

// GetElements 보드의 저장된 요소 목록
func (h *BoardHandler) GetElements(c *fiber.Ctx) error {
	boardID := model.ID(c.Params("boardId"))
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "boardId is required"})
	}

	elements, err := h.elements.FindElementsByBoard(c.UserContext(), boardID)
	if err != nil {
		h.logger.Error("failed to fetch elements", zap.String("board_id", boardID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch elements"})
	}
	if elements == nil {
		elements = []model.Element{}
	}

	return c.JSON(fiber.Map{
		"boardId":  boardID,
		"elements": elements,
	})
}

// GetPresence 보드의 현재 접속자
func (h *BoardHandler) GetPresence(c *fiber.Ctx) error {
	boardID := model.ID(c.Params("boardId"))
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "boardId is required"})
	}

	resp := fiber.Map{
		"boardId":      boardID,
		"participants": h.tracker.Participants(boardID),
		"connections":  len(h.tracker.Members(boardID)),
	}

	if h.cluster != nil {
		users, err := h.cluster.Participants(c.UserContext(), boardID)
		if err != nil {
			h.logger.Warn("failed to read cluster presence", zap.String("board_id", boardID.String()), zap.Error(err))
		} else {
			resp["cluster"] = users
		}
	}

	return c.JSON(resp)
}
