package gateway

import (
	"strings"
	"sync"

	"GateProject/tools/errs"
)

// RoomKey identifies a logical delivery group. Two well-known families:
// identity-private rooms ("identity:<id>", auto-joined) and arbitrary rooms
// joined through backend actions. A room has no storage of its own; it exists
// only as its member set and disappears when the last member leaves.
type RoomKey string

const (
	identityRoomPrefix = "identity:"
	maxRoomKeyLen      = 128
)

func (k RoomKey) String() string { return string(k) }

// IdentityRoom returns the private room key for an identity.
func IdentityRoom(identityID string) RoomKey {
	return RoomKey(identityRoomPrefix + identityID)
}

// ParseRoomKey validates an externally supplied room key.
func ParseRoomKey(s string) (RoomKey, error) {
	if s == "" || len(s) > maxRoomKeyLen {
		return "", errs.ErrBadRoomKey.WithDetail(s)
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", errs.ErrBadRoomKey.WithDetail(s)
	}
	return RoomKey(s), nil
}

// RoomManager is the process-local membership table. Cross-process visibility
// of joins is by construction: each process only tracks its own sockets, and
// the fan-out adapter is what carries deliveries between processes.
type RoomManager struct {
	mu     sync.RWMutex
	byRoom map[RoomKey]map[string]*Conn
	byConn map[string]map[RoomKey]struct{}
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		byRoom: make(map[RoomKey]map[string]*Conn),
		byConn: make(map[string]map[RoomKey]struct{}),
	}
}

// Join is idempotent. Joining a connection that is already disconnecting is a
// no-op: a dead connection's membership must never be resurrected. The state
// check happens under the table lock; teardown moves the connection to
// Disconnecting before its LeaveAll takes the same lock, so a join can never
// insert after the sweep.
func (r *RoomManager) Join(c *Conn, key RoomKey) error {
	if c == nil {
		return errs.ErrRoomResolution
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := c.State(); s == StateDisconnecting || s == StateClosed {
		return nil
	}
	room := r.byRoom[key]
	if room == nil {
		room = make(map[string]*Conn)
		r.byRoom[key] = room
	}
	if _, ok := room[c.ID]; ok {
		return nil
	}
	room[c.ID] = c
	keys := r.byConn[c.ID]
	if keys == nil {
		keys = make(map[RoomKey]struct{})
		r.byConn[c.ID] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// Leave is idempotent and safe on a non-member.
func (r *RoomManager) Leave(connID string, key RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, key)
}

// LeaveAll removes every membership of the connection; part of teardown.
func (r *RoomManager) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.byConn[connID] {
		r.leaveLocked(connID, key)
	}
}

func (r *RoomManager) leaveLocked(connID string, key RoomKey) {
	if room := r.byRoom[key]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.byRoom, key)
		}
	}
	if keys := r.byConn[connID]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.byConn, connID)
		}
	}
}

func (r *RoomManager) Members(key RoomKey) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.byRoom[key]
	if len(room) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

func (r *RoomManager) IsMember(connID string, key RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.byRoom[key]
	_, ok := room[connID]
	return ok
}

func (r *RoomManager) Rooms(connID string) []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.byConn[connID]
	out := make([]RoomKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}
