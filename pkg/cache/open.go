package cache

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by [Open].
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendMongo = "mongo"
	BackendNone  = "none"
)

// Config selects and configures a cache backend.
type Config struct {
	Backend string `toml:"backend" json:"backend"`

	Dir string `toml:"dir" json:"dir,omitempty"`

	RedisAddr     string `toml:"redis_addr" json:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password" json:"-"`
	RedisDB       int    `toml:"redis_db" json:"redis_db,omitempty"`

	MongoURI        string `toml:"mongo_uri" json:"-"`
	MongoDatabase   string `toml:"mongo_database" json:"mongo_database,omitempty"`
	MongoCollection string `toml:"mongo_collection" json:"mongo_collection,omitempty"`
}

// Open creates the backend named by cfg.Backend. An empty backend means
// "file" when cfg.Dir is set and "none" otherwise.
func Open(ctx context.Context, cfg Config) (Cache, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendNone
		if cfg.Dir != "" {
			backend = BackendFile
		}
	}

	switch backend {
	case BackendNone:
		return NewNullCache(), nil
	case BackendFile:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("file cache: dir is required")
		}
		return NewFileCache(cfg.Dir)
	case BackendRedis:
		return NewRedisCache(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "masonry:",
		})
	case BackendMongo:
		return NewMongoCache(ctx, MongoOptions{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q (must be one of: file, redis, mongo, none)", backend)
	}
}

// NullCache never stores anything; every Get is a miss.
type NullCache struct{}

// NewNullCache creates a null cache.
func NewNullCache() Cache { return NullCache{} }

func (NullCache) Get(context.Context, string) ([]byte, bool, error)          { return nil, false, nil }
func (NullCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NullCache) Delete(context.Context, string) error                     { return nil }
func (NullCache) Close() error                                             { return nil }

var _ Cache = NullCache{}
