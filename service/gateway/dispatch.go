package gateway

import (
	"context"
	"fmt"

	"GateProject/logger"
	"GateProject/service/fanout"
	"GateProject/tools/errs"
)

// Mode selects how a multicast resolves its target set.
type Mode int

const (
	ModeUnicast Mode = iota
	ModeListcast
	ModeRoomcast
	ModeBroadcast
)

func (m Mode) String() string {
	switch m {
	case ModeUnicast:
		return "unicast"
	case ModeListcast:
		return "listcast"
	case ModeRoomcast:
		return "roomcast"
	case ModeBroadcast:
		return "broadcast"
	}
	return "unknown"
}

// ParseMode is fail-closed: an unrecognized mode is an error, never a
// broadcast.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "unicast":
		return ModeUnicast, nil
	case "listcast":
		return ModeListcast, nil
	case "roomcast":
		return ModeRoomcast, nil
	case "broadcast":
		return ModeBroadcast, nil
	}
	return 0, fmt.Errorf("unknown multicast mode %q", s)
}

// CastRequest is one resolved multicast: an event name, its payload and the
// targets interpreted per Mode. Unicast and listcast targets are identity ids;
// roomcast targets are room keys.
type CastRequest struct {
	Mode    Mode
	Targets []string
	Event   string
	Payload any
}

// Multicaster turns cast requests into adapter events. Delivery is
// fire-and-forget: per-socket outcomes are never reported back.
type Multicaster struct {
	adapter fanout.Adapter
}

func NewMulticaster(adapter fanout.Adapter) *Multicaster {
	return &Multicaster{adapter: adapter}
}

// Cast resolves the target rooms and publishes one adapter event.
func (mc *Multicaster) Cast(ctx context.Context, req CastRequest) error {
	if req.Event == "" {
		return errs.ErrBadRoomKey.WithDetail("empty event name")
	}
	raw, err := fanout.MarshalPayload(req.Payload)
	if err != nil {
		return err
	}

	ev := fanout.Event{Name: req.Event, Payload: raw}
	switch req.Mode {
	case ModeBroadcast:
		ev.All = true
	case ModeUnicast:
		if len(req.Targets) != 1 {
			return fmt.Errorf("unicast wants exactly one target, got %d", len(req.Targets))
		}
		ev.Rooms = []string{IdentityRoom(req.Targets[0]).String()}
	case ModeListcast:
		if len(req.Targets) == 0 {
			return fmt.Errorf("listcast wants at least one target")
		}
		rooms := make([]string, 0, len(req.Targets))
		for _, t := range req.Targets {
			rooms = append(rooms, IdentityRoom(t).String())
		}
		ev.Rooms = rooms
	case ModeRoomcast:
		if len(req.Targets) == 0 {
			return fmt.Errorf("roomcast wants at least one target")
		}
		rooms := make([]string, 0, len(req.Targets))
		for _, t := range req.Targets {
			key, err := ParseRoomKey(t)
			if err != nil {
				return err
			}
			rooms = append(rooms, key.String())
		}
		ev.Rooms = rooms
	default:
		return fmt.Errorf("unknown multicast mode %d", req.Mode)
	}

	if err := mc.adapter.Publish(ctx, ev); err != nil {
		logger.Warnf("[cast] publish %s event=%s err=%v", req.Mode, req.Event, err)
		return err
	}
	return nil
}
