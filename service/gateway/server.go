package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"GateProject/global"
	"GateProject/logger"
	"GateProject/middleware"
	"GateProject/service/fanout"
	"GateProject/service/storage"
	"GateProject/tools/errs"
	"GateProject/tools/ids"
	"GateProject/tools/safe"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	authTimeout    = 10 * time.Second
	actionTimeout  = 30 * time.Second
)

// Server terminates websocket sessions and owns the per-process socket and
// room tables. It is also the adapter's Sink: events published anywhere in the
// cluster land here for local delivery.
type Server struct {
	cfg      *global.GatewayConfig
	conns    *ConnManager
	rooms    *RoomManager
	presence storage.Presence
	verifier *IdentityVerifier
	relay    *Relay

	adapter fanout.Adapter
	cast    *Multicaster

	upgrader websocket.Upgrader
	closing  atomic.Bool
	wg       sync.WaitGroup
}

func NewServer(cfg *global.GatewayConfig, verifier *IdentityVerifier, relay *Relay, presence storage.Presence) *Server {
	return &Server{
		cfg:      cfg,
		conns:    NewConnManager(),
		rooms:    NewRoomManager(),
		presence: presence,
		verifier: verifier,
		relay:    relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.CheckOrigin(nil),
		},
	}
}

// UseAdapter wires the fan-out adapter after construction: the adapter needs
// the server as its Sink, so the two cannot be built in one step.
func (s *Server) UseAdapter(a fanout.Adapter) {
	s.adapter = a
	s.cast = NewMulticaster(a)
}

func (s *Server) Multicaster() *Multicaster { return s.cast }

func (s *Server) Routes(engine *gin.Engine) {
	engine.GET("/ws", s.HandleWS)
	engine.GET("/health", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	degraded := false
	if s.adapter != nil {
		degraded = s.adapter.Degraded()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"gatewayId":   s.cfg.GatewayID,
		"mode":        s.cfg.Mode,
		"connections": s.conns.Count(),
		"degraded":    degraded,
	})
}

// HandleWS runs the full session: upgrade, authenticate, register, pump
// frames, tear down.
func (s *Server) HandleWS(c *gin.Context) {
	if s.closing.Load() {
		c.String(http.StatusServiceUnavailable, "shutting down")
		return
	}

	credential := c.Query("token")
	if credential == "" {
		credential = c.GetHeader("X-Token")
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade failed: %v", err)
		return
	}

	// Fallback handshake: a "connect" frame carrying the token.
	if credential == "" {
		credential = readConnectToken(ws)
	}

	conn := newConn(ids.GenerateString(), uuid.NewString(), ws, s.cfg.SendQueueSize)
	conn.setState(StateAuthenticating)

	authCtx, cancel := context.WithTimeout(context.Background(), authTimeout)
	ident, err := s.verifier.Authenticate(authCtx, credential)
	cancel()
	if err != nil {
		logger.Infof("[ws] auth failed conn=%s: %v", conn.ID, err)
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errs.ClientMessage(err)))
		_ = ws.Close()
		conn.setState(StateClosed)
		return
	}
	conn.bindIdentity(ident)

	s.conns.Bind(conn)
	_ = s.rooms.Join(conn, IdentityRoom(ident.ID))

	// Presence and location registration are best-effort: the session stays up
	// even when the stores are unreachable.
	regCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	if err := s.presence.MarkOnline(regCtx, ident.ID, conn.ID); err != nil {
		logger.Warnf("[ws] presence online failed conn=%s: %v", conn.ID, err)
	}
	if s.adapter != nil {
		if err := s.adapter.RegisterConn(regCtx, conn.ID); err != nil {
			logger.Warnf("[ws] conn register failed conn=%s: %v", conn.ID, err)
		}
	}
	cancel()

	conn.setState(StateActive)
	logger.Infof("[ws] session up conn=%s identity=%s", conn.ID, truncateLabel(ident.ID))

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		safe.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			s.refreshSession(ctx, ident.ID, conn.ID)
		})
		return nil
	})

	s.wg.Add(1)
	safe.SafeGo(func() {
		defer s.wg.Done()
		conn.writePump(pingInterval, writeWait)
	})

	s.readLoop(conn)
	s.teardown(conn)
}

// refreshSession renews the TTL-bounded session records on heartbeat: the
// presence hash and the connection-location key. Both expire on their own if a
// connection outlives its last refresh.
func (s *Server) refreshSession(ctx context.Context, identityID, connID string) {
	if err := s.presence.Refresh(ctx, identityID, connID); err != nil {
		logger.Warnf("[ws] presence refresh failed conn=%s: %v", connID, err)
	}
	if s.adapter != nil {
		if err := s.adapter.RegisterConn(ctx, connID); err != nil {
			logger.Warnf("[ws] conn location refresh failed conn=%s: %v", connID, err)
		}
	}
}

func readConnectToken(ws *websocket.Conn) string {
	_ = ws.SetReadDeadline(time.Now().Add(authTimeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return ""
	}
	f, err := ParseFrame(raw)
	if err != nil || f.Action != "connect" {
		return ""
	}
	if m, ok := f.DecodedPayload().(map[string]any); ok {
		if tok, ok := m["token"].(string); ok {
			return tok
		}
	}
	return ""
}

// readLoop is the single reader: frames of one connection are handled in
// arrival order.
func (s *Server) readLoop(c *Conn) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Infof("[ws] read err conn=%s err=%v", c.ID, err)
			}
			return
		}
		frame, err := ParseFrame(raw)
		if err != nil {
			logger.Infof("[ws] bad frame conn=%s err=%v", c.ID, err)
			continue
		}
		s.handleFrame(c, frame)
	}
}

func (s *Server) handleFrame(c *Conn, frame *InboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	env := s.relay.Do(ctx, c, frame.Action, frame.DecodedPayload())
	if !frame.WantsReply() {
		return
	}
	reply, err := EncodeReply(frame.AckID, env)
	if err != nil {
		logger.Errorf("[ws] encode reply conn=%s err=%v", c.ID, err)
		return
	}
	c.Enqueue(reply)
}

// teardown is the single-owner disconnect unit. Whoever wins beginDisconnect
// runs every release step; each step is independent so a failing store never
// blocks the rest.
func (s *Server) teardown(c *Conn) {
	if !c.beginDisconnect() {
		return
	}
	s.conns.Remove(c.ID)
	s.rooms.LeaveAll(c.ID)

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if s.adapter != nil {
		if err := s.adapter.UnregisterConn(ctx, c.ID); err != nil {
			logger.Warnf("[ws] conn unregister failed conn=%s: %v", c.ID, err)
		}
	}
	if ident := c.Identity(); ident != nil {
		storage.LogOfflineErr(s.presence.MarkOffline(ctx, ident.ID, c.ID), ident.ID, c.ID)
	}

	c.shutdown()
	c.setState(StateClosed)
	logger.Infof("[ws] session down conn=%s", c.ID)
}

// Deliver implements fanout.Sink: resolve targets against the local tables and
// enqueue to every live member. Slow clients are skipped, never waited on.
func (s *Server) Deliver(ev fanout.Event) {
	data, err := EncodePush(ev.Name, ev.Payload)
	if err != nil {
		logger.Errorf("[deliver] encode event=%s err=%v", ev.Name, err)
		return
	}

	var targets []*Conn
	if ev.All {
		targets = s.conns.ListAll()
	} else {
		seen := make(map[string]struct{})
		for _, room := range ev.Rooms {
			for _, c := range s.rooms.Members(RoomKey(room)) {
				if _, ok := seen[c.ID]; ok {
					continue
				}
				seen[c.ID] = struct{}{}
				targets = append(targets, c)
			}
		}
	}

	skipped := 0
	for _, c := range targets {
		if c.State() != StateActive {
			continue
		}
		if !c.Enqueue(data) {
			skipped++
		}
	}
	if skipped > 0 {
		logger.Warnf("[deliver] event=%s skipped=%d slow receivers", ev.Name, skipped)
	}
}

// ForceJoin implements fanout.Sink for remote membership commands.
func (s *Server) ForceJoin(connID, roomKey string) error {
	key, err := ParseRoomKey(roomKey)
	if err != nil {
		return err
	}
	c := s.conns.GetByConnID(connID)
	if c == nil {
		return errs.ErrRoomResolution.WithDetail(connID)
	}
	return s.rooms.Join(c, key)
}

func (s *Server) ForceLeave(connID, roomKey string) error {
	key, err := ParseRoomKey(roomKey)
	if err != nil {
		return err
	}
	s.rooms.Leave(connID, key)
	return nil
}

// ResolveConnection finds a connection handle: locally first, then through
// the adapter's location store. A non-nil *Conn means the connection lives
// here; otherwise the returned gateway id names the owning process.
func (s *Server) ResolveConnection(ctx context.Context, connID string) (*Conn, string, error) {
	if c := s.conns.GetByConnID(connID); c != nil {
		return c, s.cfg.GatewayID, nil
	}
	if s.adapter != nil {
		gwID, ok, err := s.adapter.LocateConn(ctx, connID)
		if err == nil && ok && gwID != s.cfg.GatewayID {
			return nil, gwID, nil
		}
	}
	return nil, "", errs.ErrRoomResolution.WithDetail(connID)
}

// JoinRoom adds a connection to a room on behalf of a backend action. A
// connection id resolves locally first, then through the adapter's location
// store; an identity resolves against local connections only.
func (s *Server) JoinRoom(ctx context.Context, roomKey, identityID, connectionID string) error {
	key, err := ParseRoomKey(roomKey)
	if err != nil {
		return err
	}

	if connectionID != "" {
		c, gwID, err := s.ResolveConnection(ctx, connectionID)
		if err != nil {
			return err
		}
		if c != nil {
			return s.rooms.Join(c, key)
		}
		return s.adapter.JoinRemote(ctx, gwID, connectionID, key.String())
	}

	if identityID != "" {
		list := s.conns.ListByIdentity(identityID)
		if len(list) == 0 {
			return errs.ErrRoomResolution.WithDetail("identity " + identityID)
		}
		for _, c := range list {
			if err := s.rooms.Join(c, key); err != nil {
				return err
			}
		}
		return nil
	}

	return errs.ErrRoomResolution.WithDetail("no target")
}

// LeaveRoom mirrors JoinRoom. Leaving on behalf of an absent connection is a
// no-op locally but still forwarded when the connection lives elsewhere.
func (s *Server) LeaveRoom(ctx context.Context, roomKey, identityID, connectionID string) error {
	key, err := ParseRoomKey(roomKey)
	if err != nil {
		return err
	}

	if connectionID != "" {
		c, gwID, rerr := s.ResolveConnection(ctx, connectionID)
		if rerr != nil {
			// leaving on behalf of a vanished connection is a no-op
			return nil
		}
		if c != nil {
			s.rooms.Leave(c.ID, key)
			return nil
		}
		return s.adapter.LeaveRemote(ctx, gwID, connectionID, key.String())
	}

	if identityID != "" {
		for _, c := range s.conns.ListByIdentity(identityID) {
			s.rooms.Leave(c.ID, key)
		}
	}
	return nil
}

// CheckOnline answers per-identity online flags from the presence store.
func (s *Server) CheckOnline(ctx context.Context, identityIDs []string) ([]bool, error) {
	return s.presence.IsOnlineBatch(ctx, identityIDs)
}

// Close drains the gateway: refuse new sessions, tear down existing ones, shut
// the adapter.
func (s *Server) Close(ctx context.Context) error {
	s.closing.Store(true)
	for _, c := range s.conns.ListAll() {
		s.teardown(c)
	}

	waited := make(chan struct{})
	safe.SafeGo(func() {
		s.wg.Wait()
		close(waited)
	})
	select {
	case <-waited:
	case <-ctx.Done():
	}

	if s.adapter != nil {
		return s.adapter.Close()
	}
	return nil
}
