package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/model"
)

// GormStore element/board persistence on top of gorm (postgres).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindElementsByBoard returns every element of the board in creation order.
func (s *GormStore) FindElementsByBoard(ctx context.Context, boardID model.ID) ([]model.Element, error) {
	var elements []model.Element
	if err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("created_at ASC").
		Find(&elements).Error; err != nil {
		return nil, fmt.Errorf("find elements of board %s: %w", boardID, err)
	}
	return elements, nil
}

func (s *GormStore) FindElement(ctx context.Context, boardID, elementID model.ID) (model.Element, error) {
	var el model.Element
	err := s.db.WithContext(ctx).
		Where("board_id = ? AND id = ?", boardID, elementID).
		First(&el).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Element{}, ErrNotFound
	}
	if err != nil {
		return model.Element{}, fmt.Errorf("find element %s: %w", elementID, err)
	}
	return el, nil
}

// CreateElement inserts el. An existing (board_id, id) row is left untouched
// and reported as ErrDuplicate.
func (s *GormStore) CreateElement(ctx context.Context, el model.Element) (model.Element, error) {
	el.ApplyDefaults()
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&el)
	if res.Error != nil {
		return model.Element{}, fmt.Errorf("create element %s: %w", el.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Element{}, ErrDuplicate
	}
	return el, nil
}

// UpdateElement applies patch to an existing element; it never creates one.
func (s *GormStore) UpdateElement(ctx context.Context, boardID, elementID model.ID, patch model.ElementPatch) (model.Element, error) {
	var el model.Element
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("board_id = ? AND id = ?", boardID, elementID).
			First(&el).Error; err != nil {
			return err
		}
		patch.Apply(&el)
		return tx.Save(&el).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Element{}, ErrNotFound
	}
	if err != nil {
		return model.Element{}, fmt.Errorf("update element %s: %w", elementID, err)
	}
	return el, nil
}

func (s *GormStore) DeleteElement(ctx context.Context, boardID, elementID model.ID) error {
	res := s.db.WithContext(ctx).
		Where("board_id = ? AND id = ?", boardID, elementID).
		Delete(&model.Element{})
	if res.Error != nil {
		return fmt.Errorf("delete element %s: %w", elementID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) FindBoard(ctx context.Context, boardID model.ID) (model.Board, error) {
	var board model.Board
	err := s.db.WithContext(ctx).Where("id = ?", boardID).First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Board{}, ErrNotFound
	}
	if err != nil {
		return model.Board{}, fmt.Errorf("find board %s: %w", boardID, err)
	}
	return board, nil
}

func (s *GormStore) UpdateBoardParticipants(ctx context.Context, boardID model.ID, participants []string) error {
	if participants == nil {
		participants = []string{}
	}
	res := s.db.WithContext(ctx).
		Model(&model.Board{}).
		Where("id = ?", boardID).
		Select("participants").
		Updates(model.Board{Participants: participants})
	if res.Error != nil {
		return fmt.Errorf("update participants of board %s: %w", boardID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
