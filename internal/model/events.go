package model

// EventName 실시간 채널 이벤트 이름
type EventName string

// client → server
const (
	EventJoinBoard     EventName = "joinBoard"
	EventLeaveBoard    EventName = "leaveBoard"
	EventAddElement    EventName = "addElement"
	EventUpdateElement EventName = "updateElement"
	EventDeleteElement EventName = "deleteElement"
	EventUpdateDrawing EventName = "updateDrawing"
)

// server → client
const (
	EventInitialShapes  EventName = "initialShapes"
	EventElementAdded   EventName = "elementAdded"
	EventElementUpdated EventName = "elementUpdated"
	EventElementDeleted EventName = "elementDeleted"
	EventDrawingUpdated EventName = "drawingUpdated"
	EventUserJoined     EventName = "userJoined"
	EventUserLeft       EventName = "userLeft"
)

func (e EventName) String() string {
	return string(e)
}

// DrawingUpdate is broadcast with only the points of the latest batch.
type DrawingUpdate struct {
	DrawingID ID     `json:"drawingId"`
	Points    Points `json:"points"`
}

// PresenceChange is the payload of userJoined / userLeft.
type PresenceChange struct {
	UserID       string   `json:"userId"`
	BoardID      ID       `json:"boardId"`
	Participants []string `json:"participants"`
}
