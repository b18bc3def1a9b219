package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"whiteboard-backend/internal/model"
)

var (
	// ErrInvalidCommand a frame that is not a well-formed event.
	ErrInvalidCommand = errors.New("session: invalid command")
	// ErrUnknownEvent a well-formed frame naming an event nobody handles.
	ErrUnknownEvent = errors.New("session: unknown event")
)

// connection lifecycle pseudo-events; never sent by clients
const (
	eventConnect    model.EventName = "connect"
	eventDisconnect model.EventName = "disconnect"
)

// Command is one inbound event for a connection.
type Command interface {
	Event() model.EventName
}

type Connect struct {
	UserID string
}

type Disconnect struct{}

type JoinBoard struct {
	BoardID model.ID
}

type LeaveBoard struct {
	BoardID model.ID `json:"boardId"`
	UserID  string   `json:"userId"`
}

type AddElement struct {
	BoardID model.ID
	Element model.Element
}

type UpdateElement struct {
	BoardID   model.ID
	ElementID model.ID
	Patch     model.ElementPatch
}

type DeleteElement struct {
	BoardID   model.ID `json:"boardId"`
	ElementID model.ID `json:"elementId"`
}

type UpdateDrawing struct {
	BoardID    model.ID     `json:"boardId"`
	DrawingID  model.ID     `json:"drawingId"`
	Points     model.Points `json:"points"`
	IsComplete bool         `json:"isComplete"`
}

func (Connect) Event() model.EventName       { return eventConnect }
func (Disconnect) Event() model.EventName    { return eventDisconnect }
func (JoinBoard) Event() model.EventName     { return model.EventJoinBoard }
func (LeaveBoard) Event() model.EventName    { return model.EventLeaveBoard }
func (AddElement) Event() model.EventName    { return model.EventAddElement }
func (UpdateElement) Event() model.EventName { return model.EventUpdateElement }
func (DeleteElement) Event() model.EventName { return model.EventDeleteElement }
func (UpdateDrawing) Event() model.EventName { return model.EventUpdateDrawing }

// frame inbound wire format: {"event": "...", "data": ...}
type frame struct {
	Event model.EventName `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// elementFrame accepts both the current ("element") and the legacy
// ("newShape" / "updatedShape") field names.
type elementFrame struct {
	BoardID      model.ID        `json:"boardId"`
	Element      json.RawMessage `json:"element"`
	NewShape     json.RawMessage `json:"newShape"`
	UpdatedShape json.RawMessage `json:"updatedShape"`
}

func (f elementFrame) body() json.RawMessage {
	switch {
	case len(f.Element) > 0:
		return f.Element
	case len(f.NewShape) > 0:
		return f.NewShape
	default:
		return f.UpdatedShape
	}
}

// Decode parses one inbound frame into a typed command. Field validation is
// left to the coordinator.
func Decode(data []byte) (Command, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrInvalidCommand)
	}

	var (
		cmd Command
		err error
	)
	switch f.Event {
	case model.EventJoinBoard:
		cmd, err = decodeJoin(f.Data)
	case model.EventLeaveBoard:
		var c LeaveBoard
		err = unmarshalData(f.Data, &c)
		cmd = c
	case model.EventAddElement:
		cmd, err = decodeAdd(f.Data)
	case model.EventUpdateElement:
		cmd, err = decodeUpdate(f.Data)
	case model.EventDeleteElement:
		var c DeleteElement
		err = unmarshalData(f.Data, &c)
		cmd = c
	case model.EventUpdateDrawing:
		var c UpdateDrawing
		err = unmarshalData(f.Data, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, f.Event, err)
	}
	return cmd, nil
}

// decodeJoin accepts a bare board id or {"boardId": ...}.
func decodeJoin(data json.RawMessage) (Command, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var body struct {
			BoardID model.ID `json:"boardId"`
		}
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return nil, err
		}
		return JoinBoard{BoardID: body.BoardID}, nil
	}
	var id model.ID
	if err := unmarshalData(trimmed, &id); err != nil {
		return nil, err
	}
	return JoinBoard{BoardID: id}, nil
}

func decodeAdd(data json.RawMessage) (Command, error) {
	var f elementFrame
	if err := unmarshalData(data, &f); err != nil {
		return nil, err
	}
	cmd := AddElement{BoardID: f.BoardID}
	if body := f.body(); len(body) > 0 {
		if err := json.Unmarshal(body, &cmd.Element); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func decodeUpdate(data json.RawMessage) (Command, error) {
	var f elementFrame
	if err := unmarshalData(data, &f); err != nil {
		return nil, err
	}
	cmd := UpdateElement{BoardID: f.BoardID}
	body := f.body()
	if len(body) == 0 {
		return cmd, nil
	}
	var ref struct {
		ID model.ID `json:"id"`
	}
	if err := json.Unmarshal(body, &ref); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &cmd.Patch); err != nil {
		return nil, err
	}
	cmd.ElementID = ref.ID
	return cmd, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}
