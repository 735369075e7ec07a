package gateway

import (
	"context"
	"errors"
	"testing"

	"GateProject/service/fanout"
	"GateProject/tools/errs"
)

// captureAdapter records published events and location writes without any
// delivery.
type captureAdapter struct {
	events    []fanout.Event
	registers []string
}

func (a *captureAdapter) Publish(_ context.Context, ev fanout.Event) error {
	a.events = append(a.events, ev)
	return nil
}
func (a *captureAdapter) RegisterConn(_ context.Context, connID string) error {
	a.registers = append(a.registers, connID)
	return nil
}
func (a *captureAdapter) UnregisterConn(context.Context, string) error { return nil }
func (a *captureAdapter) LocateConn(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (a *captureAdapter) JoinRemote(context.Context, string, string, string) error  { return nil }
func (a *captureAdapter) LeaveRemote(context.Context, string, string, string) error { return nil }
func (a *captureAdapter) Degraded() bool                                            { return false }
func (a *captureAdapter) Close() error                                              { return nil }

func TestParseModeFailClosed(t *testing.T) {
	for _, s := range []string{"unicast", "listcast", "roomcast", "broadcast"} {
		m, err := ParseMode(s)
		if err != nil || m.String() != s {
			t.Fatalf("ParseMode(%q) = %v, %v", s, m, err)
		}
	}
	for _, s := range []string{"", "all", "BROADCAST", "multicast"} {
		if _, err := ParseMode(s); err == nil {
			t.Fatalf("ParseMode(%q) must fail", s)
		}
	}
}

func TestCastUnicast(t *testing.T) {
	a := &captureAdapter{}
	mc := NewMulticaster(a)

	err := mc.Cast(context.Background(), CastRequest{
		Mode: ModeUnicast, Targets: []string{"alice"},
		Event: "friend.request", Payload: map[string]any{"from": "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := a.events[0]
	if ev.All || len(ev.Rooms) != 1 || ev.Rooms[0] != "identity:alice" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Name != "friend.request" {
		t.Fatalf("event name = %q", ev.Name)
	}

	if err := mc.Cast(context.Background(), CastRequest{Mode: ModeUnicast, Event: "x"}); err == nil {
		t.Fatalf("unicast without target must fail")
	}
	if err := mc.Cast(context.Background(), CastRequest{
		Mode: ModeUnicast, Targets: []string{"a", "b"}, Event: "x",
	}); err == nil {
		t.Fatalf("unicast with two targets must fail")
	}
}

func TestCastListcast(t *testing.T) {
	a := &captureAdapter{}
	mc := NewMulticaster(a)

	err := mc.Cast(context.Background(), CastRequest{
		Mode: ModeListcast, Targets: []string{"alice", "bob"}, Event: "group.invite",
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := a.events[0]
	if len(ev.Rooms) != 2 || ev.Rooms[0] != "identity:alice" || ev.Rooms[1] != "identity:bob" {
		t.Fatalf("rooms = %v", ev.Rooms)
	}
}

func TestCastRoomcastValidatesKeys(t *testing.T) {
	a := &captureAdapter{}
	mc := NewMulticaster(a)

	err := mc.Cast(context.Background(), CastRequest{
		Mode: ModeRoomcast, Targets: []string{"chat:42", "bad key"}, Event: "chat.message",
	})
	if !errors.Is(err, errs.ErrBadRoomKey) {
		t.Fatalf("err = %v, want bad room key", err)
	}
	if len(a.events) != 0 {
		t.Fatalf("nothing may be published on validation failure")
	}
}

func TestCastBroadcast(t *testing.T) {
	a := &captureAdapter{}
	mc := NewMulticaster(a)

	if err := mc.Cast(context.Background(), CastRequest{Mode: ModeBroadcast, Event: "system.notice"}); err != nil {
		t.Fatal(err)
	}
	if ev := a.events[0]; !ev.All || len(ev.Rooms) != 0 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestCastRejectsEmptyEvent(t *testing.T) {
	mc := NewMulticaster(&captureAdapter{})
	if err := mc.Cast(context.Background(), CastRequest{Mode: ModeBroadcast}); err == nil {
		t.Fatalf("empty event name must fail")
	}
}
