package model

// ElementType 요소 타입. The set is open: clients may send types the server
// does not know, only an empty type is rejected.
type ElementType string

const (
	ElementTypeDrawing   ElementType = "drawing"
	ElementTypeRectangle ElementType = "rectangle"
	ElementTypeSquare    ElementType = "square"
	ElementTypeCircle    ElementType = "circle"
	ElementTypeTriangle  ElementType = "triangle"
	ElementTypeLine      ElementType = "line"
	ElementTypeText      ElementType = "text"
)

// String 메서드
func (t ElementType) String() string {
	return string(t)
}

// IsFreehand reports whether elements of this type grow through drawing
// updates.
func (t ElementType) IsFreehand() bool {
	return t == ElementTypeDrawing
}
