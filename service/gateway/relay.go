package gateway

import (
	"context"

	"GateProject/logger"
	"GateProject/service/backend"
	"GateProject/tools/errs"
	"GateProject/tools/match"
)

// ReplyEnvelope is the structured result of one relayed action. On failure
// only the human-readable message crosses to the client.
type ReplyEnvelope struct {
	Success bool
	Data    any
	Message string
}

// Relay forwards arbitrary client-named actions into the backend action layer
// under a denylist and error-containment policy. A handler failure is replied,
// never propagated: the connection always survives.
type Relay struct {
	invoker  backend.Invoker
	denylist []string
}

func NewRelay(invoker backend.Invoker, denylist []string) *Relay {
	return &Relay{invoker: invoker, denylist: denylist}
}

// Denied reports whether the action name matches a denylist pattern.
func (r *Relay) Denied(action string) bool {
	return match.Any(action, r.denylist)
}

// Do relays one action. Denied actions never touch the backend.
func (r *Relay) Do(ctx context.Context, c *Conn, action string, payload any) (env ReplyEnvelope) {
	if r.Denied(action) {
		logger.Warnf("[relay] denied action=%s conn=%s", action, c.ID)
		return ReplyEnvelope{Success: false, Message: errs.ErrDenylist.Msg}
	}

	meta := backend.Metadata{
		CorrelationID: c.CorrelationID,
		ConnectionID:  c.ID,
	}
	if ident := c.Identity(); ident != nil {
		meta.IdentityID = ident.ID
	}

	// A panicking handler must not take the gateway down with it.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[relay] handler panic action=%s conn=%s: %v", action, c.ID, rec)
			env = ReplyEnvelope{Success: false, Message: errs.ErrBackend.Msg}
		}
	}()

	data, err := r.invoker.Invoke(ctx, action, payload, meta)
	if err != nil {
		msg := errs.ClientMessage(err)
		logger.Infof("[relay] action=%s conn=%s failed: %s", action, c.ID, msg)
		return ReplyEnvelope{Success: false, Message: msg}
	}
	return ReplyEnvelope{Success: true, Data: data}
}
