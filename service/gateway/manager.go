package gateway

import "sync"

// ConnManager indexes the sockets owned by this process: primary index by
// connection id, secondary by identity for unicast resolution. A connection
// enters the identity index only after authentication.
type ConnManager struct {
	mu         sync.RWMutex
	byConn     map[string]*Conn
	byIdentity map[string]map[string]*Conn // identityID -> connID -> conn
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		byConn:     make(map[string]*Conn),
		byIdentity: make(map[string]map[string]*Conn),
	}
}

// Bind registers an authenticated connection under both indexes.
func (m *ConnManager) Bind(c *Conn) {
	id := c.Identity()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[c.ID] = c
	if id != nil {
		mm := m.byIdentity[id.ID]
		if mm == nil {
			mm = make(map[string]*Conn)
			m.byIdentity[id.ID] = mm
		}
		mm[c.ID] = c
	}
}

func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(m.byConn, connID)
	if id := c.Identity(); id != nil {
		if mm := m.byIdentity[id.ID]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(m.byIdentity, id.ID)
			}
		}
	}
}

func (m *ConnManager) GetByConnID(connID string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byConn[connID]
}

func (m *ConnManager) ListByIdentity(identityID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byIdentity[identityID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) ListAll() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.byConn))
	for _, c := range m.byConn {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}
