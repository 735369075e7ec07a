package gateway

import (
	"context"
	"fmt"
	"strings"

	"GateProject/service/backend"
	"GateProject/tools/decode"
	"GateProject/tools/errs"
)

// Gateway-owned actions live under the "gateway." prefix. Clients cannot reach
// them through the relay (the default denylist covers the prefix); backend
// services call them directly through the registry.

type roomArgs struct {
	RoomID       string `json:"roomId"`
	IdentityID   string `json:"identityId"`
	ConnectionID string `json:"connectionId"`
}

type notifyArgs struct {
	Type      string `json:"type"`
	Target    any    `json:"target"`
	EventName string `json:"eventName"`
	EventData any    `json:"eventData"`
}

type checkOnlineArgs struct {
	IdentityIDs []string `json:"identityIds"`
}

// RegisterGatewayActions installs the gateway's own action handlers:
// membership commands, the multicast entrypoint and the presence query.
func RegisterGatewayActions(reg *backend.Registry, srv *Server) {
	reg.Register("gateway.joinRoom", func(ctx context.Context, payload any, meta backend.Metadata) (any, error) {
		args, err := decodeRoomArgs(payload, meta)
		if err != nil {
			return nil, err
		}
		if err := srv.JoinRoom(ctx, args.RoomID, args.IdentityID, args.ConnectionID); err != nil {
			return nil, err
		}
		return map[string]any{"roomId": args.RoomID}, nil
	})

	reg.Register("gateway.leaveRoom", func(ctx context.Context, payload any, meta backend.Metadata) (any, error) {
		args, err := decodeRoomArgs(payload, meta)
		if err != nil {
			return nil, err
		}
		if err := srv.LeaveRoom(ctx, args.RoomID, args.IdentityID, args.ConnectionID); err != nil {
			return nil, err
		}
		return map[string]any{"roomId": args.RoomID}, nil
	})

	reg.Register("gateway.notify", func(ctx context.Context, payload any, meta backend.Metadata) (any, error) {
		args, err := decode.DecodeMap[notifyArgs](decode.AsMap(payload))
		if err != nil {
			return nil, errs.ErrBackend.WithDetail(err.Error())
		}
		mode, err := ParseMode(args.Type)
		if err != nil {
			return nil, err
		}
		if args.EventName == "" {
			return nil, fmt.Errorf("notify wants an eventName")
		}
		req := CastRequest{
			Mode:    mode,
			Targets: targetList(args.Target),
			Event:   namespacedEvent(meta.Service, args.EventName),
			Payload: args.EventData,
		}
		if err := srv.Multicaster().Cast(ctx, req); err != nil {
			return nil, err
		}
		return map[string]any{"dispatched": true}, nil
	})

	reg.Register("gateway.checkOnline", func(ctx context.Context, payload any, meta backend.Metadata) (any, error) {
		args, err := decode.DecodeMap[checkOnlineArgs](decode.AsMap(payload))
		if err != nil {
			return nil, errs.ErrBackend.WithDetail(err.Error())
		}
		online, err := srv.CheckOnline(ctx, args.IdentityIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"online": online}, nil
	})
}

// decodeRoomArgs defaults the target to the calling connection: a backend
// action invoked from a socket joins that socket when the payload names no
// other target.
func decodeRoomArgs(payload any, meta backend.Metadata) (*roomArgs, error) {
	args, err := decode.DecodeMap[roomArgs](decode.AsMap(payload))
	if err != nil {
		return nil, errs.ErrBackend.WithDetail(err.Error())
	}
	if args.RoomID == "" {
		return nil, errs.ErrBadRoomKey.WithDetail("missing roomId")
	}
	if args.IdentityID == "" && args.ConnectionID == "" {
		args.ConnectionID = meta.ConnectionID
	}
	return args, nil
}

// namespacedEvent prefixes the event with the calling service so receivers can
// tell which backend emitted it. Already-prefixed names pass through.
func namespacedEvent(service, event string) string {
	if service == "" || strings.HasPrefix(event, service+".") {
		return event
	}
	return service + "." + event
}

func targetList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
