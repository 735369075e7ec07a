package fanout

import (
	"context"
	"encoding/json"
)

// Event is one delivery request travelling through the adapter: either a set
// of target rooms or an all-sockets broadcast. Origin carries the publishing
// gateway id so subscribers can skip events they already delivered locally.
type Event struct {
	Rooms   []string        `json:"rooms,omitempty"`
	All     bool            `json:"all,omitempty"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

// Sink is the gateway side of the adapter: it resolves room membership against
// the local socket table and applies remote membership commands.
type Sink interface {
	Deliver(ev Event)
	ForceJoin(connID, roomKey string) error
	ForceLeave(connID, roomKey string) error
}

// Adapter abstracts single-process vs multi-process delivery. The local
// variant is synchronous and in-memory; the clustered variant rides a pub/sub
// backbone plus a TTL key-value store for connection location.
type Adapter interface {
	// Publish delivers ev to every member socket on every process. Local
	// delivery must survive backbone failure.
	Publish(ctx context.Context, ev Event) error

	// Connection location, used for cross-process resolution of a connection
	// handle by id. No-ops in the local variant.
	RegisterConn(ctx context.Context, connID string) error
	UnregisterConn(ctx context.Context, connID string) error
	LocateConn(ctx context.Context, connID string) (gatewayID string, ok bool, err error)

	// Remote membership commands addressed to the process owning the
	// connection.
	JoinRemote(ctx context.Context, gatewayID, connID, roomKey string) error
	LeaveRemote(ctx context.Context, gatewayID, connID, roomKey string) error

	// Degraded reports whether the backbone is currently unreachable and
	// delivery is local-only.
	Degraded() bool

	Close() error
}

// MarshalPayload normalizes an arbitrary payload into the raw form carried by
// an Event.
func MarshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
