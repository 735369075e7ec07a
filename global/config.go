package global

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// GatewayConfig is the process-level configuration. Defaults describe a
// single-process gateway with no external services ("local" fanout mode);
// "cluster" mode requires both Redis and NATS.
type GatewayConfig struct {
	GatewayID     string        `koanf:"gateway_id"`
	Addr          string        `koanf:"addr"`
	Mode          string        `koanf:"mode"` // "local" | "cluster"
	NodeID        int64         `koanf:"node_id"`
	SendQueueSize int           `koanf:"send_queue_size"`
	PresenceTTL   time.Duration `koanf:"presence_ttl"`
	Denylist      []string      `koanf:"denylist"`

	Redis RedisConfig `koanf:"redis"`
	Nats  NatsConfig  `koanf:"nats"`
	Auth  AuthConfig  `koanf:"auth"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type NatsConfig struct {
	Servers []string `koanf:"servers"`
	Name    string   `koanf:"name"`
}

type AuthConfig struct {
	Secret string `koanf:"secret"`
}

// Load reads YAML config from path (optional) with env overrides under the
// GATEWAY_ prefix (GATEWAY_REDIS_ADDR -> redis.addr).
func Load(path string) (*GatewayConfig, error) {
	k := koanf.New(".")

	applyDefaults(k)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg GatewayConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in single-process configuration.
func Default() *GatewayConfig {
	cfg, _ := Load("")
	return cfg
}

func applyDefaults(k *koanf.Koanf) {
	setDefault(k, "gateway_id", "gw-1")
	setDefault(k, "addr", ":7788")
	setDefault(k, "mode", "local")
	setDefault(k, "node_id", 1)
	setDefault(k, "send_queue_size", 256)
	setDefault(k, "presence_ttl", 24*time.Hour)
	setDefault(k, "denylist", []string{"gateway.**"})
	setDefault(k, "redis.addr", "127.0.0.1:6379")
	setDefault(k, "redis.db", 0)
	setDefault(k, "nats.servers", []string{"nats://127.0.0.1:4222"})
	setDefault(k, "nats.name", "gateway")
	setDefault(k, "auth.secret", "")
}

func setDefault(k *koanf.Koanf, key string, v any) {
	if !k.Exists(key) {
		_ = k.Set(key, v)
	}
}
