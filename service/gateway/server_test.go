package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"GateProject/global"
	"GateProject/service/backend"
	"GateProject/service/fanout"
	"GateProject/service/storage"
	"GateProject/tools/security"
)

type testGateway struct {
	reg    *backend.Registry
	srv    *Server
	ts     *httptest.Server
	secret []byte
	denied atomic.Int64
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tg := &testGateway{secret: []byte("test-secret")}
	tg.reg = backend.NewRegistry()
	backend.RegisterIdentityResolver(tg.reg, tg.secret)

	// Action clients may call: used to sync on a fully active session.
	tg.reg.Register("probe.echo", func(_ context.Context, payload any, meta backend.Metadata) (any, error) {
		return map[string]any{"echo": payload, "identity": meta.IdentityID}, nil
	})
	// Action behind the denylist: must never be reached over the wire.
	tg.reg.Register("gateway.probe", func(context.Context, any, backend.Metadata) (any, error) {
		tg.denied.Add(1)
		return nil, nil
	})

	cfg := global.Default()
	presence := storage.NewMemoryPresence(cfg.GatewayID, cfg.PresenceTTL)
	verifier := NewIdentityVerifier(tg.reg)
	relay := NewRelay(tg.reg, cfg.Denylist)

	tg.srv = NewServer(cfg, verifier, relay, presence)
	tg.srv.UseAdapter(fanout.NewLocalAdapter(tg.srv))
	RegisterGatewayActions(tg.reg, tg.srv)

	engine := gin.New()
	tg.srv.Routes(engine)
	tg.ts = httptest.NewServer(engine)
	t.Cleanup(tg.ts.Close)
	return tg
}

func (tg *testGateway) token(t *testing.T, identityID string) string {
	t.Helper()
	tok, _, err := security.Generate(security.DefaultOptions(tg.secret), identityID, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (tg *testGateway) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(tg.ts.URL, "http") + "/ws?token=" + token
}

// dial connects and waits for the session to go fully active by round-tripping
// one probe action.
func (tg *testGateway) dial(t *testing.T, identityID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(tg.wsURL(tg.token(t, identityID)), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	sendFrame(t, ws, `{"action":"probe.echo","payload":{"ping":1},"ackId":"sync"}`)
	reply := readReply(t, ws)
	if !reply.Success {
		t.Fatalf("probe failed: %+v", reply)
	}
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatal(err)
	}
}

func readRaw(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func readReply(t *testing.T, ws *websocket.Conn) ReplyFrame {
	t.Helper()
	var f ReplyFrame
	if err := json.Unmarshal(readRaw(t, ws), &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func readPush(t *testing.T, ws *websocket.Conn) PushFrame {
	t.Helper()
	var f PushFrame
	if err := json.Unmarshal(readRaw(t, ws), &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSessionRejectsBadToken(t *testing.T) {
	tg := newTestGateway(t)

	ws, _, err := websocket.DefaultDialer.Dial(tg.wsURL("not-a-token"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want policy violation close", err)
	}
}

func TestRelayOverWire(t *testing.T) {
	tg := newTestGateway(t)
	ws := tg.dial(t, "alice")

	sendFrame(t, ws, `{"action":"probe.echo","payload":{"n":7},"ackId":1}`)
	reply := readReply(t, ws)
	if !reply.Success {
		t.Fatalf("reply = %+v", reply)
	}
	data, _ := reply.Data.(map[string]any)
	if data["identity"] != "alice" {
		t.Fatalf("identity metadata missing: %v", reply.Data)
	}
}

func TestDenylistOverWire(t *testing.T) {
	tg := newTestGateway(t)
	ws := tg.dial(t, "alice")

	sendFrame(t, ws, `{"action":"gateway.probe","ackId":2}`)
	reply := readReply(t, ws)
	if reply.Success {
		t.Fatalf("denied action must fail over the wire")
	}
	if n := tg.denied.Load(); n != 0 {
		t.Fatalf("backend reached %d times through the denylist", n)
	}

	// The connection survives the denial.
	sendFrame(t, ws, `{"action":"probe.echo","ackId":3}`)
	if reply := readReply(t, ws); !reply.Success {
		t.Fatalf("connection should stay usable: %+v", reply)
	}
}

func TestNotifyUnicastDelivery(t *testing.T) {
	tg := newTestGateway(t)
	ws := tg.dial(t, "alice")

	_, err := tg.reg.Invoke(context.Background(), "gateway.notify", map[string]any{
		"type":      "unicast",
		"target":    "alice",
		"eventName": "friend.request",
		"eventData": map[string]any{"from": "bob"},
	}, backend.Metadata{Service: "friend"})
	if err != nil {
		t.Fatal(err)
	}

	push := readPush(t, ws)
	if push.Event != "friend.request" {
		t.Fatalf("push = %+v", push)
	}
	var payload map[string]any
	if err := json.Unmarshal(push.Payload, &payload); err != nil || payload["from"] != "bob" {
		t.Fatalf("payload = %s", push.Payload)
	}
}

func TestJoinRoomAndRoomcast(t *testing.T) {
	tg := newTestGateway(t)
	alice := tg.dial(t, "alice")
	_ = tg.dial(t, "carol") // member of nothing, must receive nothing

	_, err := tg.reg.Invoke(context.Background(), "gateway.joinRoom", map[string]any{
		"roomId":     "chat:42",
		"identityId": "alice",
	}, backend.Metadata{Service: "chat"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = tg.reg.Invoke(context.Background(), "gateway.notify", map[string]any{
		"type":      "roomcast",
		"target":    []string{"chat:42"},
		"eventName": "chat.message",
		"eventData": map[string]any{"text": "hello"},
	}, backend.Metadata{Service: "chat"})
	if err != nil {
		t.Fatal(err)
	}

	if push := readPush(t, alice); push.Event != "chat.message" {
		t.Fatalf("push = %+v", push)
	}
}

func TestNotifyUnknownModeFailsClosed(t *testing.T) {
	tg := newTestGateway(t)
	_ = tg.dial(t, "alice")

	_, err := tg.reg.Invoke(context.Background(), "gateway.notify", map[string]any{
		"type":      "everyone",
		"target":    "alice",
		"eventName": "oops",
	}, backend.Metadata{Service: "chat"})
	if err == nil {
		t.Fatalf("unknown multicast mode must be rejected, not broadcast")
	}
}

func TestCheckOnlineLifecycle(t *testing.T) {
	tg := newTestGateway(t)
	ws := tg.dial(t, "alice")

	out, err := tg.reg.Invoke(context.Background(), "gateway.checkOnline", map[string]any{
		"identityIds": []string{"alice", "nobody"},
	}, backend.Metadata{Service: "friend"})
	if err != nil {
		t.Fatal(err)
	}
	online := out.(map[string]any)["online"].([]bool)
	if !online[0] || online[1] {
		t.Fatalf("online = %v, want [true false]", online)
	}

	_ = ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		out, err := tg.reg.Invoke(context.Background(), "gateway.checkOnline", map[string]any{
			"identityIds": []string{"alice"},
		}, backend.Metadata{Service: "friend"})
		if err != nil {
			t.Fatal(err)
		}
		if !out.(map[string]any)["online"].([]bool)[0] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alice still online after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	tg := newTestGateway(t)
	alice := tg.dial(t, "alice")
	bob := tg.dial(t, "bob")

	_, err := tg.reg.Invoke(context.Background(), "gateway.notify", map[string]any{
		"type":      "broadcast",
		"eventName": "notice",
		"eventData": map[string]any{"text": "maintenance"},
	}, backend.Metadata{Service: "system"})
	if err != nil {
		t.Fatal(err)
	}

	// Event names carry the emitting service as prefix.
	for _, ws := range []*websocket.Conn{alice, bob} {
		if push := readPush(t, ws); push.Event != "system.notice" {
			t.Fatalf("push = %+v", push)
		}
	}
}

func TestHealthReportsAdapterState(t *testing.T) {
	tg := newTestGateway(t)
	_ = tg.dial(t, "alice")

	resp, err := http.Get(tg.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status      string `json:"status"`
		GatewayID   string `json:"gatewayId"`
		Connections int    `json:"connections"`
		Degraded    bool   `json:"degraded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.GatewayID == "" {
		t.Fatalf("health = %+v", body)
	}
	if body.Connections != 1 {
		t.Fatalf("connections = %d, want 1", body.Connections)
	}
	if body.Degraded {
		t.Fatalf("local adapter must never report degraded")
	}
}

func TestRefreshSessionRenewsPresenceAndLocation(t *testing.T) {
	cfg := global.Default()
	presence := storage.NewMemoryPresence(cfg.GatewayID, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	presence.SetClock(func() time.Time { return now })

	srv := NewServer(cfg, nil, nil, presence)
	ca := &captureAdapter{}
	srv.UseAdapter(ca)

	ctx := context.Background()
	if err := presence.MarkOnline(ctx, "alice", "c1"); err != nil {
		t.Fatal(err)
	}

	// Past the original TTL window, a heartbeat keeps both records alive.
	now = now.Add(50 * time.Second)
	srv.refreshSession(ctx, "alice", "c1")
	now = now.Add(50 * time.Second)

	if on, _ := presence.IsOnline(ctx, "alice"); !on {
		t.Fatalf("heartbeat should renew the presence window")
	}
	if len(ca.registers) != 1 || ca.registers[0] != "c1" {
		t.Fatalf("heartbeat should renew the connection location, got %v", ca.registers)
	}
}

func TestFirstFrameHandshake(t *testing.T) {
	tg := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(tg.ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	tok := tg.token(t, "alice")
	sendFrame(t, ws, `{"action":"connect","payload":{"token":"`+tok+`"}}`)
	sendFrame(t, ws, `{"action":"probe.echo","ackId":"sync"}`)
	if reply := readReply(t, ws); !reply.Success {
		t.Fatalf("handshake via connect frame failed: %+v", reply)
	}
}
