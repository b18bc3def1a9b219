package model

import "time"

// Board 협업 보드. 생성/목록은 REST 쪽 책임이고, 실시간 엔진은 참가자 목록만 갱신한다.
type Board struct {
	ID           ID        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Code         string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	OwnerID      string    `gorm:"type:varchar(64);not null" json:"ownerId"`
	Participants []string  `gorm:"type:jsonb;serializer:json" json:"participants"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	// Relations
	Elements []Element `gorm:"foreignKey:BoardID" json:"elements,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

// HasParticipant reports whether userID is in the persisted participant set.
func (b *Board) HasParticipant(userID string) bool {
	for _, p := range b.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// WithParticipant returns the participant set with userID added once.
func (b *Board) WithParticipant(userID string) []string {
	if b.HasParticipant(userID) {
		return append([]string(nil), b.Participants...)
	}
	out := make([]string, 0, len(b.Participants)+1)
	out = append(out, b.Participants...)
	return append(out, userID)
}

// WithoutParticipant returns the participant set with every occurrence of userID removed.
func (b *Board) WithoutParticipant(userID string) []string {
	out := make([]string, 0, len(b.Participants))
	for _, p := range b.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}
