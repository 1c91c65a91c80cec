// Package storage holds the durable backends behind the assistant's cache, preference and
// log interfaces.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
)

// FileIndexCache stores the snapshot as one JSON file, replaced atomically on save.
type FileIndexCache struct {
	path string
}

var _ assistant.IndexCache = (*FileIndexCache)(nil)

func NewFileIndexCache(path string) *FileIndexCache { return &FileIndexCache{path: path} }

func (c *FileIndexCache) Load(context.Context) (*assistant.IndexSnapshot, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, assistant.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read index cache: %w", err)
	}
	var snap assistant.IndexSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode index cache %s: %w", c.path, err)
	}
	return &snap, nil
}

func (c *FileIndexCache) Save(_ context.Context, snap *assistant.IndexSnapshot) error {
	return fileutils.WriteJSONFileAtomic(c.path, snap, false)
}

const badgerSnapshotKey = "corpus:index:snapshot"

// BadgerIndexCache stores the snapshot under a single key in an embedded badger database.
type BadgerIndexCache struct {
	db   *badger.DB
	owns bool
}

var _ assistant.IndexCache = (*BadgerIndexCache)(nil)

// NewBadgerIndexCache uses an already open database; Close leaves it open.
func NewBadgerIndexCache(db *badger.DB) *BadgerIndexCache { return &BadgerIndexCache{db: db} }

// OpenBadgerIndexCache opens (or creates) a database in dir. Close closes it.
func OpenBadgerIndexCache(dir string) (*BadgerIndexCache, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &BadgerIndexCache{db: db, owns: true}, nil
}

func (c *BadgerIndexCache) Load(context.Context) (*assistant.IndexSnapshot, error) {
	var snap assistant.IndexSnapshot
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerSnapshotKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return assistant.ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *BadgerIndexCache) Save(_ context.Context, snap *assistant.IndexSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerSnapshotKey), data)
	})
}

func (c *BadgerIndexCache) Close() error {
	if !c.owns {
		return nil
	}
	return c.db.Close()
}

// RedisIndexCache stores the snapshot as one string value.
type RedisIndexCache struct {
	client *redis.Client
	key    string
}

var _ assistant.IndexCache = (*RedisIndexCache)(nil)

func NewRedisIndexCache(client *redis.Client, key string) *RedisIndexCache {
	if key == "" {
		key = "jarvis:index"
	}
	return &RedisIndexCache{client: client, key: key}
}

func (c *RedisIndexCache) Load(ctx context.Context) (*assistant.IndexSnapshot, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, assistant.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	var snap assistant.IndexSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (c *RedisIndexCache) Save(ctx context.Context, snap *assistant.IndexSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, c.key, data, 0).Err()
}

// NewRedisClient connects and pings once so a bad address fails at startup.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
