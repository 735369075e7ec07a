package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

var rdb *redis.Client

// InitRedis connects the process-wide client; call once from main.
func InitRedis(c Config) error {
	rdb = redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	return rdb.Ping(context.Background()).Err()
}

func GetRedis() *redis.Client { return rdb }

// SetClient injects a client directly (tests, custom pools).
func SetClient(c *redis.Client) { rdb = c }
