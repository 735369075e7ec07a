package storage

import (
	"context"
	"time"

	"GateProject/logger"

	"github.com/pkg/errors"
	redislib "github.com/redis/go-redis/v9"

	redis2 "GateProject/service/storage/redis"
)

// PresenceRecord is one online marker: an identity connected through one
// connection on one gateway process. Multiple records per identity mean
// multiple devices.
type PresenceRecord struct {
	IdentityID string
	ConnID     string
	GatewayID  string
	ExpireAt   time.Time
}

// Presence is the TTL-backed online registry. MarkOffline is the graceful
// path; records left behind by a crashed process expire on their own, so
// answers are eventually accurate but may lag a crashed disconnect by up to
// one TTL window.
type Presence interface {
	MarkOnline(ctx context.Context, identityID, connID string) error
	Refresh(ctx context.Context, identityID, connID string) error
	MarkOffline(ctx context.Context, identityID, connID string) error
	IsOnline(ctx context.Context, identityID string) (bool, error)
	IsOnlineBatch(ctx context.Context, identityIDs []string) ([]bool, error)
}

// presence key: gateway.online:<identity>
// hash field = connID, value = gatewayID; key TTL bounds the whole record set.
func presenceKey(identityID string) string { return "gateway.online:" + identityID }

// RedisPresence stores records in one hash per identity.
type RedisPresence struct {
	gatewayID string
	ttl       time.Duration
}

func NewRedisPresence(gatewayID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPresence{gatewayID: gatewayID, ttl: ttl}
}

func (p *RedisPresence) MarkOnline(ctx context.Context, identityID, connID string) error {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return errors.New("redis not initialized")
	}
	key := presenceKey(identityID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key, connID, p.gatewayID)
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "presence online")
}

// Refresh renews the TTL window; called from the connection heartbeat.
func (p *RedisPresence) Refresh(ctx context.Context, identityID, connID string) error {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return errors.New("redis not initialized")
	}
	key := presenceKey(identityID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key, connID, p.gatewayID)
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "presence refresh")
}

func (p *RedisPresence) MarkOffline(ctx context.Context, identityID, connID string) error {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return errors.New("redis not initialized")
	}
	// HDEL of the last field removes the key, so IsOnline flips to false only
	// after the last device disconnects.
	return errors.Wrap(rdb.HDel(ctx, presenceKey(identityID), connID).Err(), "presence offline")
}

func (p *RedisPresence) IsOnline(ctx context.Context, identityID string) (bool, error) {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return false, errors.New("redis not initialized")
	}
	n, err := rdb.Exists(ctx, presenceKey(identityID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence lookup")
	}
	return n > 0, nil
}

func (p *RedisPresence) IsOnlineBatch(ctx context.Context, identityIDs []string) ([]bool, error) {
	rdb := redis2.GetRedis()
	if rdb == nil {
		return nil, errors.New("redis not initialized")
	}
	pipe := rdb.Pipeline()
	cmds := make([]*redislib.IntCmd, len(identityIDs))
	for i, id := range identityIDs {
		cmds[i] = pipe.Exists(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "presence batch lookup")
	}
	out := make([]bool, len(identityIDs))
	for i, cmd := range cmds {
		out[i] = cmd.Val() > 0
	}
	return out, nil
}

// LogOfflineErr is the teardown helper: offline failures are logged and
// swallowed so the rest of the disconnect unit still runs.
func LogOfflineErr(err error, identityID, connID string) {
	if err != nil {
		logger.Warnf("[presence] offline failed identity=%s conn=%s err=%v", identityID, connID, err)
	}
}
