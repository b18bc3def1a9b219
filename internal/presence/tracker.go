// Package presence tracks which live connection belongs to which user and
// which board it is currently joined to.
package presence

import (
	"sort"
	"sync"

	"whiteboard-backend/internal/model"
)

// Connection 라이브 연결 상태 (영속화하지 않음)
type Connection struct {
	ID      string
	UserID  string
	BoardID model.ID // empty when not joined
	seq     uint64   // join order, keeps participant lists stable
}

// Departure describes a connection leaving a board.
type Departure struct {
	ConnID  string
	UserID  string
	BoardID model.ID
	// LastConnection is true when the user has no other live connection to
	// the board, i.e. the user has actually left the room.
	LastConnection bool
	// Participants are the distinct users still in the room.
	Participants []string
}

// Tracker maps connections to (user, board) pairs. Safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[model.ID]map[string]*Connection // boardID -> connID -> conn
	seq   uint64
}

func NewTracker() *Tracker {
	return &Tracker{
		conns: make(map[string]*Connection),
		rooms: make(map[model.ID]map[string]*Connection),
	}
}

// Register records a new connection and reports whether it was new.
// Registering an existing id is a no-op.
func (t *Tracker) Register(connID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.conns[connID]; ok {
		return false
	}
	t.conns[connID] = &Connection{ID: connID, UserID: userID}
	return true
}

// Lookup returns a copy of the connection state.
func (t *Tracker) Lookup(connID string) (Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Join associates connID with boardID and returns the distinct users now in
// the room. Rejoining the same board does not duplicate membership. If the
// connection was joined to another board, that departure is returned as
// well so the caller can notify the old room.
func (t *Tracker) Join(connID string, boardID model.ID) (participants []string, previous *Departure, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.conns[connID]
	if !exists {
		return nil, nil, false
	}
	if c.BoardID == boardID {
		return t.participantsLocked(boardID), nil, true
	}
	if c.BoardID != "" {
		d := t.leaveLocked(c)
		previous = &d
	}

	t.seq++
	c.BoardID = boardID
	c.seq = t.seq
	room, exists := t.rooms[boardID]
	if !exists {
		room = make(map[string]*Connection)
		t.rooms[boardID] = room
	}
	room[connID] = c

	return t.participantsLocked(boardID), previous, true
}

// IsFirstConnection reports whether connID is the only connection of its
// user in its current room.
func (t *Tracker) IsFirstConnection(connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.conns[connID]
	if !ok || c.BoardID == "" {
		return false
	}
	for id, other := range t.rooms[c.BoardID] {
		if id != connID && other.UserID == c.UserID {
			return false
		}
	}
	return true
}

// Leave removes the board association of connID. Unknown or unjoined
// connections are a no-op and return ok=false.
func (t *Tracker) Leave(connID string) (Departure, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.conns[connID]
	if !exists || c.BoardID == "" {
		return Departure{}, false
	}
	return t.leaveLocked(c), true
}

// Unregister forgets connID entirely, leaving its board first. The returned
// departure is nil if the connection was not joined; existed is false for an
// unknown connection, so a second call is a no-op.
func (t *Tracker) Unregister(connID string) (departure *Departure, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.conns[connID]
	if !exists {
		return nil, false
	}
	delete(t.conns, connID)
	if c.BoardID == "" {
		return nil, true
	}
	d := t.leaveLocked(c)
	return &d, true
}

// Participants returns the distinct user ids in the room, in join order.
func (t *Tracker) Participants(boardID model.ID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.participantsLocked(boardID)
}

// Members returns the connection ids currently joined to boardID.
func (t *Tracker) Members(boardID model.ID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room := t.rooms[boardID]
	out := make([]string, 0, len(room))
	for _, c := range sortedBySeq(room) {
		out = append(out, c.ID)
	}
	return out
}

// Boards returns the ids of boards with at least one live connection.
func (t *Tracker) Boards() []model.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.ID, 0, len(t.rooms))
	for id := range t.rooms {
		out = append(out, id)
	}
	return out
}

// Connections returns the number of registered connections.
func (t *Tracker) Connections() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

func (t *Tracker) leaveLocked(c *Connection) Departure {
	boardID := c.BoardID
	room := t.rooms[boardID]
	delete(room, c.ID)
	if len(room) == 0 {
		delete(t.rooms, boardID)
	}
	c.BoardID = ""

	last := true
	for _, other := range room {
		if other.UserID == c.UserID {
			last = false
			break
		}
	}
	return Departure{
		ConnID:         c.ID,
		UserID:         c.UserID,
		BoardID:        boardID,
		LastConnection: last,
		Participants:   t.participantsLocked(boardID),
	}
}

func (t *Tracker) participantsLocked(boardID model.ID) []string {
	room := t.rooms[boardID]
	seen := make(map[string]struct{}, len(room))
	out := make([]string, 0, len(room))
	for _, c := range sortedBySeq(room) {
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		out = append(out, c.UserID)
	}
	return out
}

func sortedBySeq(room map[string]*Connection) []*Connection {
	out := make([]*Connection, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
