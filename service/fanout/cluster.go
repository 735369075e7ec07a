package fanout

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	redislib "github.com/redis/go-redis/v9"

	"GateProject/logger"
	"GateProject/tools/errs"

	redis2 "GateProject/service/storage/redis"
)

const (
	fanoutSubject = "gateway.fanout"
	ctrlSubject   = "gateway.ctrl." // + gatewayID
)

// connLocationKey records which gateway process owns a connection.
// TTL-bounded so crashed processes don't leave stale locations behind.
func connLocationKey(connID string) string { return "gateway.conn:" + connID }

type ctrlMsg struct {
	Op     string `json:"op"` // "join" | "leave"
	ConnID string `json:"connId"`
	Room   string `json:"room"`
}

// ClusterConfig wires the clustered adapter.
type ClusterConfig struct {
	GatewayID     string
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	ConnTTL       time.Duration // location key TTL
}

func (c *ClusterConfig) norm() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.ConnTTL <= 0 {
		c.ConnTTL = 24 * time.Hour
	}
	if c.Name == "" {
		c.Name = "gateway-" + c.GatewayID
	}
}

// ClusterAdapter shares deliveries across gateway processes over NATS and
// tracks connection location in Redis. Membership stays process-local: each
// process only knows the sockets connected to it, and the pub/sub layer is
// what lets a publish on process A reach sockets on process B.
type ClusterAdapter struct {
	cfg  ClusterConfig
	sink Sink
	nc   *nats.Conn

	// backbone publish, swappable in tests
	publish func(subject string, data []byte) error

	fanoutSub *nats.Subscription
	ctrlSub   *nats.Subscription

	degraded atomic.Bool
}

func NewClusterAdapter(cfg ClusterConfig, sink Sink) (*ClusterAdapter, error) {
	cfg.norm()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}

	a := &ClusterAdapter{cfg: cfg, sink: sink, nc: nc, publish: nc.Publish}

	a.fanoutSub, err = nc.Subscribe(fanoutSubject, a.onFanout)
	if err != nil {
		_ = nc.Drain()
		return nil, errors.Wrap(err, "subscribe fanout")
	}
	a.ctrlSub, err = nc.Subscribe(ctrlSubject+cfg.GatewayID, a.onCtrl)
	if err != nil {
		_ = nc.Drain()
		return nil, errors.Wrap(err, "subscribe ctrl")
	}
	return a, nil
}

// Publish delivers locally first (local state is authoritative for local
// sockets), then broadcasts to the other processes. A backbone failure
// degrades scope, never correctness of same-process delivery.
func (a *ClusterAdapter) Publish(_ context.Context, ev Event) error {
	ev.Origin = a.cfg.GatewayID
	a.sink.Deliver(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal fanout event")
	}
	if err := a.publish(fanoutSubject, data); err != nil {
		a.markDegraded(err)
		return nil
	}
	a.clearDegraded()
	return nil
}

func (a *ClusterAdapter) onFanout(m *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		logger.Warnf("[fanout] drop malformed event: %v", err)
		return
	}
	if ev.Origin == a.cfg.GatewayID {
		// already delivered at publish time
		return
	}
	a.sink.Deliver(ev)
}

func (a *ClusterAdapter) onCtrl(m *nats.Msg) {
	var c ctrlMsg
	if err := json.Unmarshal(m.Data, &c); err != nil {
		logger.Warnf("[fanout] drop malformed ctrl msg: %v", err)
		return
	}
	var err error
	switch c.Op {
	case "join":
		err = a.sink.ForceJoin(c.ConnID, c.Room)
	case "leave":
		err = a.sink.ForceLeave(c.ConnID, c.Room)
	default:
		logger.Warnf("[fanout] unknown ctrl op %q", c.Op)
		return
	}
	if err != nil {
		logger.Warnf("[fanout] ctrl %s failed conn=%s room=%s err=%v", c.Op, c.ConnID, c.Room, err)
	}
}

func (a *ClusterAdapter) RegisterConn(ctx context.Context, connID string) error {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return errs.ErrAdapterUnavailable.WithDetail("redis not initialized")
	}
	err := rdb.Set(ctx, connLocationKey(connID), a.cfg.GatewayID, a.cfg.ConnTTL).Err()
	if err != nil {
		a.markDegraded(err)
		return errors.Wrap(err, "register conn location")
	}
	return nil
}

func (a *ClusterAdapter) UnregisterConn(ctx context.Context, connID string) error {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return errs.ErrAdapterUnavailable.WithDetail("redis not initialized")
	}
	return errors.Wrap(rdb.Del(ctx, connLocationKey(connID)).Err(), "unregister conn location")
}

func (a *ClusterAdapter) LocateConn(ctx context.Context, connID string) (string, bool, error) {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return "", false, errs.ErrAdapterUnavailable.WithDetail("redis not initialized")
	}
	gw, err := rdb.Get(ctx, connLocationKey(connID)).Result()
	if errors.Is(err, redislib.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "locate conn")
	}
	return gw, true, nil
}

func (a *ClusterAdapter) JoinRemote(_ context.Context, gatewayID, connID, roomKey string) error {
	return a.publishCtrl(gatewayID, ctrlMsg{Op: "join", ConnID: connID, Room: roomKey})
}

func (a *ClusterAdapter) LeaveRemote(_ context.Context, gatewayID, connID, roomKey string) error {
	return a.publishCtrl(gatewayID, ctrlMsg{Op: "leave", ConnID: connID, Room: roomKey})
}

func (a *ClusterAdapter) publishCtrl(gatewayID string, c ctrlMsg) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal ctrl msg")
	}
	if err := a.publish(ctrlSubject+gatewayID, data); err != nil {
		a.markDegraded(err)
		return errs.ErrAdapterUnavailable.WithDetail(err.Error())
	}
	a.clearDegraded()
	return nil
}

func (a *ClusterAdapter) Degraded() bool { return a.degraded.Load() }

func (a *ClusterAdapter) markDegraded(err error) {
	if a.degraded.CompareAndSwap(false, true) {
		logger.Warnf("[fanout] backbone unreachable, degrading to local-only delivery: %v", err)
	}
}

func (a *ClusterAdapter) clearDegraded() {
	if a.degraded.CompareAndSwap(true, false) {
		logger.Infof("[fanout] backbone recovered, cluster delivery restored")
	}
}

func (a *ClusterAdapter) Close() error {
	if a.fanoutSub != nil {
		_ = a.fanoutSub.Drain()
	}
	if a.ctrlSub != nil {
		_ = a.ctrlSub.Drain()
	}
	if a.nc != nil {
		return a.nc.Drain()
	}
	return nil
}
