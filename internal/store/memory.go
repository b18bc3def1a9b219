package store

import (
	"context"
	"sync"
	"time"

	"whiteboard-backend/internal/model"
)

// Memory in-process store for local development (DB_DRIVER=memory) and tests.
type Memory struct {
	mu       sync.RWMutex
	boards   map[model.ID]model.Board
	elements map[model.ID]map[model.ID]model.Element
	order    map[model.ID][]model.ID // insertion order per board
}

func NewMemory() *Memory {
	return &Memory{
		boards:   make(map[model.ID]model.Board),
		elements: make(map[model.ID]map[model.ID]model.Element),
		order:    make(map[model.ID][]model.ID),
	}
}

// PutBoard creates or replaces a board. Boards are owned by the REST side,
// the engine only reads them.
func (m *Memory) PutBoard(b model.Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Participants = append([]string(nil), b.Participants...)
	m.boards[b.ID] = b
}

func (m *Memory) FindElementsByBoard(_ context.Context, boardID model.ID) ([]model.Element, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.order[boardID]
	out := make([]model.Element, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.elements[boardID][id].Clone())
	}
	return out, nil
}

func (m *Memory) FindElement(_ context.Context, boardID, elementID model.ID) (model.Element, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	el, ok := m.elements[boardID][elementID]
	if !ok {
		return model.Element{}, ErrNotFound
	}
	return el.Clone(), nil
}

func (m *Memory) CreateElement(_ context.Context, el model.Element) (model.Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.elements[el.BoardID]
	if !ok {
		byID = make(map[model.ID]model.Element)
		m.elements[el.BoardID] = byID
	}
	if _, exists := byID[el.ID]; exists {
		return model.Element{}, ErrDuplicate
	}

	el = el.Clone()
	el.ApplyDefaults()
	now := time.Now()
	el.CreatedAt, el.UpdatedAt = now, now
	byID[el.ID] = el
	m.order[el.BoardID] = append(m.order[el.BoardID], el.ID)
	return el.Clone(), nil
}

func (m *Memory) UpdateElement(_ context.Context, boardID, elementID model.ID, patch model.ElementPatch) (model.Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.elements[boardID][elementID]
	if !ok {
		return model.Element{}, ErrNotFound
	}
	patch.Apply(&el)
	el.UpdatedAt = time.Now()
	m.elements[boardID][elementID] = el
	return el.Clone(), nil
}

func (m *Memory) DeleteElement(_ context.Context, boardID, elementID model.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.elements[boardID][elementID]; !ok {
		return ErrNotFound
	}
	delete(m.elements[boardID], elementID)

	ids := m.order[boardID]
	for i, id := range ids {
		if id == elementID {
			m.order[boardID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) FindBoard(_ context.Context, boardID model.ID) (model.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.boards[boardID]
	if !ok {
		return model.Board{}, ErrNotFound
	}
	b.Participants = append([]string(nil), b.Participants...)
	return b, nil
}

func (m *Memory) UpdateBoardParticipants(_ context.Context, boardID model.ID, participants []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boards[boardID]
	if !ok {
		return ErrNotFound
	}
	b.Participants = append([]string(nil), participants...)
	b.UpdatedAt = time.Now()
	m.boards[boardID] = b
	return nil
}
