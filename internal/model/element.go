package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a client-assigned identifier. Clients send element ids either as
// strings or as numbers (Date.now()), both are normalised to a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Element 보드 위의 도형/획/텍스트
type Element struct {
	ID      ID          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BoardID ID          `gorm:"primaryKey;type:varchar(64);index" json:"boardId"`
	Type    ElementType `gorm:"type:varchar(32);not null" json:"type"`

	// Geometry
	X      float64  `gorm:"default:0" json:"x"`
	Y      float64  `gorm:"default:0" json:"y"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Size   *float64 `json:"size,omitempty"`
	Radius *float64 `json:"radius,omitempty"`
	Points Points   `gorm:"type:jsonb;serializer:json" json:"points,omitempty"`

	// Style
	Stroke      string  `gorm:"type:varchar(32);default:'#000000'" json:"stroke"`
	StrokeWidth float64 `gorm:"default:2" json:"strokeWidth"`
	Fill        string  `gorm:"type:varchar(32);default:'transparent'" json:"fill"`

	Text *string `gorm:"type:text" json:"text,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Element) TableName() string {
	return "elements"
}

const (
	DefaultStroke      = "#000000"
	DefaultStrokeWidth = 2
	DefaultFill        = "transparent"
)

// ApplyDefaults fills unset style fields the way the board schema does.
func (e *Element) ApplyDefaults() {
	if e.Stroke == "" {
		e.Stroke = DefaultStroke
	}
	if e.StrokeWidth == 0 {
		e.StrokeWidth = DefaultStrokeWidth
	}
	if e.Fill == "" {
		e.Fill = DefaultFill
	}
	if e.Type.IsFreehand() && e.Points == nil {
		e.Points = Points{}
	}
}

// Clone returns a deep copy, so callers can hand elements across goroutines.
func (e Element) Clone() Element {
	out := e
	out.Points = e.Points.Clone()
	out.Width = cloneFloat(e.Width)
	out.Height = cloneFloat(e.Height)
	out.Size = cloneFloat(e.Size)
	out.Radius = cloneFloat(e.Radius)
	if e.Text != nil {
		t := *e.Text
		out.Text = &t
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Points is a flat, ordered coordinate list: x0, y0, x1, y1, ...
type Points []float64

func (p Points) Clone() Points {
	if p == nil {
		return nil
	}
	out := make(Points, len(p))
	copy(out, p)
	return out
}

// ElementPatch partial update; nil fields are left untouched.
type ElementPatch struct {
	Type        *ElementType `json:"type,omitempty"`
	X           *float64     `json:"x,omitempty"`
	Y           *float64     `json:"y,omitempty"`
	Width       *float64     `json:"width,omitempty"`
	Height      *float64     `json:"height,omitempty"`
	Size        *float64     `json:"size,omitempty"`
	Radius      *float64     `json:"radius,omitempty"`
	Points      *Points      `json:"points,omitempty"`
	Stroke      *string      `json:"stroke,omitempty"`
	StrokeWidth *float64     `json:"strokeWidth,omitempty"`
	Fill        *string      `json:"fill,omitempty"`
	Text        *string      `json:"text,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ElementPatch) IsEmpty() bool {
	return p == ElementPatch{}
}

// Apply writes the set fields onto e.
func (p ElementPatch) Apply(e *Element) {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.X != nil {
		e.X = *p.X
	}
	if p.Y != nil {
		e.Y = *p.Y
	}
	if p.Width != nil {
		e.Width = cloneFloat(p.Width)
	}
	if p.Height != nil {
		e.Height = cloneFloat(p.Height)
	}
	if p.Size != nil {
		e.Size = cloneFloat(p.Size)
	}
	if p.Radius != nil {
		e.Radius = cloneFloat(p.Radius)
	}
	if p.Points != nil {
		e.Points = p.Points.Clone()
	}
	if p.Stroke != nil {
		e.Stroke = *p.Stroke
	}
	if p.StrokeWidth != nil {
		e.StrokeWidth = *p.StrokeWidth
	}
	if p.Fill != nil {
		e.Fill = *p.Fill
	}
	if p.Text != nil {
		t := *p.Text
		e.Text = &t
	}
}

// PointsPatch is the patch the stroke engine writes on every flush.
func PointsPatch(points Points) ElementPatch {
	p := points.Clone()
	if p == nil {
		p = Points{}
	}
	return ElementPatch{Points: &p}
}
