// Package room fans real-time events out to the connections of a board.
package room

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"whiteboard-backend/internal/model"
)

// ErrQueueFull is returned by a Sender whose outbound queue cannot take
// another frame. The broadcaster closes such connections; clients resync
// through the join snapshot when they reconnect.
var ErrQueueFull = errors.New("room: send queue full")

// Envelope wire format of every server → client frame.
type Envelope struct {
	Event model.EventName `json:"event"`
	Data  any             `json:"data"`
	// Origin is the connection that caused a room broadcast. Clients drop
	// drawingUpdated frames carrying their own connection id.
	Origin string `json:"origin,omitempty"`
}

// Sender is the transport side of one connection. Send must not block.
type Sender interface {
	Send(frame []byte) error
	Close() error
}

// Membership resolves the connections joined to a board.
type Membership interface {
	Members(boardID model.ID) []string
}

// Kind 메시지 대상 종류
type Kind int

const (
	KindBroadcast Kind = iota
	KindUnicast
)

// Message is an outbound frame produced by the session layer.
type Message struct {
	Kind    Kind
	BoardID model.ID // broadcast target
	ConnID  string   // unicast target
	Exclude string   // optional connection skipped by a broadcast
	Origin  string
	Event   model.EventName
	Data    any
}

// Broadcast builds a room-wide message.
func Broadcast(boardID model.ID, event model.EventName, data any, origin string) Message {
	return Message{Kind: KindBroadcast, BoardID: boardID, Event: event, Data: data, Origin: origin}
}

// Unicast builds a message for a single connection.
func Unicast(connID string, event model.EventName, data any) Message {
	return Message{Kind: KindUnicast, ConnID: connID, Event: event, Data: data}
}

// Broadcaster keeps the sender of every attached connection and delivers
// messages to them. Room membership itself comes from Membership.
type Broadcaster struct {
	mu      sync.RWMutex
	senders map[string]Sender
	members Membership
	logger  *zap.Logger
}

// NewBroadcaster Broadcaster 생성
func NewBroadcaster(members Membership, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		senders: make(map[string]Sender),
		members: members,
		logger:  logger.Named("room"),
	}
}

// Attach registers the sender of connID.
func (b *Broadcaster) Attach(connID string, s Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.senders[connID] = s
}

// Detach forgets connID. Detaching twice is a no-op.
func (b *Broadcaster) Detach(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.senders, connID)
}

// CloseAll closes every attached sender, used on shutdown. Senders detach
// through the normal disconnect path.
func (b *Broadcaster) CloseAll() int {
	b.mu.RLock()
	senders := make([]Sender, 0, len(b.senders))
	for _, s := range b.senders {
		senders = append(senders, s)
	}
	b.mu.RUnlock()

	for _, s := range senders {
		_ = s.Close()
	}
	return len(senders)
}

// Deliver sends every message in order and returns the number of frames
// handed to senders.
func (b *Broadcaster) Deliver(msgs ...Message) int {
	sent := 0
	for _, m := range msgs {
		switch m.Kind {
		case KindUnicast:
			if b.unicast(m) {
				sent++
			}
		case KindBroadcast:
			sent += b.broadcast(m)
		}
	}
	return sent
}

func (b *Broadcaster) unicast(m Message) bool {
	frame, err := encode(m)
	if err != nil {
		b.logger.Error("failed to marshal frame", zap.String("event", m.Event.String()), zap.Error(err))
		return false
	}

	b.mu.RLock()
	s, ok := b.senders[m.ConnID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return b.send(m.ConnID, s, m.Event, frame)
}

func (b *Broadcaster) broadcast(m Message) int {
	frame, err := encode(m)
	if err != nil {
		b.logger.Error("failed to marshal frame", zap.String("event", m.Event.String()), zap.Error(err))
		return 0
	}

	type target struct {
		id string
		s  Sender
	}
	ids := b.members.Members(m.BoardID)
	targets := make([]target, 0, len(ids))
	b.mu.RLock()
	for _, id := range ids {
		if id == m.Exclude {
			continue
		}
		if s, ok := b.senders[id]; ok {
			targets = append(targets, target{id: id, s: s})
		}
	}
	b.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		if b.send(t.id, t.s, m.Event, frame) {
			sent++
		}
	}
	return sent
}

func (b *Broadcaster) send(connID string, s Sender, event model.EventName, frame []byte) bool {
	err := s.Send(frame)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrQueueFull) {
		b.logger.Warn("send queue full, closing connection",
			zap.String("conn_id", connID), zap.String("event", event.String()))
		_ = s.Close()
		return false
	}
	b.logger.Warn("failed to send frame",
		zap.String("conn_id", connID), zap.String("event", event.String()), zap.Error(err))
	return false
}

func encode(m Message) ([]byte, error) {
	env := Envelope{Event: m.Event, Data: m.Data}
	if m.Kind == KindBroadcast {
		env.Origin = m.Origin
	}
	return json.Marshal(env)
}
