package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Backend string // "memory", "disk" or "redis"; anything else disables caching
	Dir     string // disk backend root
	Prefix  string // redis key prefix
	TTL     time.Duration
}

// New builds a Store from config. redisClient is only consulted for the
// redis backend.
func New(cfg Config, redisClient *redis.Client, logger *zap.Logger) (*Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewStore(ModeRuntime, nil, logger), nil
	case "disk":
		blobs, err := NewDiskBlobStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return NewStore(ModePersistent, NewLoggingBlobStore(blobs, "disk"), logger), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis cache backend requires a client")
		}
		blobs := NewRedisBlobStore(redisClient, RedisConfig{Prefix: cfg.Prefix, TTL: cfg.TTL})
		return NewStore(ModePersistent, NewLoggingBlobStore(blobs, "redis"), logger), nil
	default:
		return NewStore(ModeDisabled, nil, logger), nil
	}
}
