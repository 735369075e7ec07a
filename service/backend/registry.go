package backend

import (
	"context"
	"sync"

	"GateProject/tools/errs"
)

// Metadata is the bag the gateway injects into every backend call made on
// behalf of a connection. Service names the calling backend service for
// server-initiated calls; clients never set any of this.
type Metadata struct {
	IdentityID    string
	CorrelationID string
	ConnectionID  string
	Service       string
}

// Handler is one backend action. Errors returned here are caught at the relay
// boundary and converted to failure envelopes; they never tear down a
// connection.
type Handler func(ctx context.Context, payload any, meta Metadata) (any, error)

// Invoker is the opaque backend action dispatcher consumed by the gateway.
type Invoker interface {
	Invoke(ctx context.Context, action string, payload any, meta Metadata) (any, error)
}

// Registry is the in-process Invoker: a name -> handler table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

func (r *Registry) Invoke(ctx context.Context, action string, payload any, meta Metadata) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[action]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.ErrActionNotFound.WithDetail(action)
	}
	return h(ctx, payload, meta)
}
