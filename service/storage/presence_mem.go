package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryPresence is the single-process implementation. Same union semantics as
// the redis variant; expiry is evaluated lazily against an injectable clock.
type MemoryPresence struct {
	mu        sync.RWMutex
	gatewayID string
	ttl       time.Duration
	clock     func() time.Time
	records   map[string]map[string]PresenceRecord // identity -> connID -> record
}

func NewMemoryPresence(gatewayID string, ttl time.Duration) *MemoryPresence {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryPresence{
		gatewayID: gatewayID,
		ttl:       ttl,
		clock:     time.Now,
		records:   make(map[string]map[string]PresenceRecord),
	}
}

// SetClock injects a clock for tests.
func (p *MemoryPresence) SetClock(clock func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
}

func (p *MemoryPresence) MarkOnline(_ context.Context, identityID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.records[identityID]
	if m == nil {
		m = make(map[string]PresenceRecord)
		p.records[identityID] = m
	}
	m[connID] = PresenceRecord{
		IdentityID: identityID,
		ConnID:     connID,
		GatewayID:  p.gatewayID,
		ExpireAt:   p.clock().Add(p.ttl),
	}
	return nil
}

func (p *MemoryPresence) Refresh(ctx context.Context, identityID, connID string) error {
	return p.MarkOnline(ctx, identityID, connID)
}

func (p *MemoryPresence) MarkOffline(_ context.Context, identityID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m := p.records[identityID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(p.records, identityID)
		}
	}
	return nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, identityID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweepLocked(identityID), nil
}

func (p *MemoryPresence) IsOnlineBatch(_ context.Context, identityIDs []string) ([]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(identityIDs))
	for i, id := range identityIDs {
		out[i] = p.sweepLocked(id)
	}
	return out, nil
}

// sweepLocked drops expired records for the identity and reports whether any
// live record remains.
func (p *MemoryPresence) sweepLocked(identityID string) bool {
	now := p.clock()
	m := p.records[identityID]
	for connID, rec := range m {
		if now.After(rec.ExpireAt) {
			delete(m, connID)
		}
	}
	if len(m) == 0 {
		delete(p.records, identityID)
		return false
	}
	return true
}
