// Package mirror copies each location's current view to Redis so other
// processes can read the state without calling the API.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nerrad567/homely-sync/internal/infrastructure/config"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// writeTimeout bounds one Redis write on the dispatcher goroutine.
const writeTimeout = 3 * time.Second

// KVStore is the key-value surface the mirror writes to.
type KVStore interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore implements KVStore with go-redis.
type RedisKVStore struct {
	client *redis.Client
}

// NewRedisClient creates a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// ViewSource returns the current view of a location.
type ViewSource interface {
	View(locationID string) (snapshot.View, error)
}

// Logger is the logging surface the mirror needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Mirror writes the full view of a location after each change batch.
type Mirror struct {
	kv     KVStore
	views  ViewSource
	prefix string
	ttl    time.Duration
	log    Logger

	mu      sync.Mutex
	written map[string]uint64 // highest seq mirrored per location
}

// New creates a Mirror. A zero ttl stores keys without expiry.
func New(kv KVStore, views ViewSource, prefix string, ttl time.Duration, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	if prefix == "" {
		prefix = "homely"
	}
	return &Mirror{
		kv:      kv,
		views:   views,
		prefix:  prefix,
		ttl:     ttl,
		log:     logger,
		written: make(map[string]uint64),
	}
}

// Key returns the Redis key holding a location's view.
func (m *Mirror) Key(locationID string) string {
	return m.prefix + ":location:" + locationID + ":snapshot"
}

// Handle mirrors the view that contains c. The view is read after the
// whole batch was applied, so later changes of the same batch are already
// covered and skipped. It has the notify.Handler signature.
func (m *Mirror) Handle(c snapshot.Change) {
	loc := c.Key.LocationID
	m.mu.Lock()
	done := c.Seq <= m.written[loc]
	m.mu.Unlock()
	if done {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := m.Sync(ctx, loc); err != nil {
		m.log.Warn("mirroring snapshot failed", "location_id", loc, "error", err)
	}
}

// Sync writes the current view of a location.
func (m *Mirror) Sync(ctx context.Context, locationID string) error {
	view, err := m.views.View(locationID)
	if err != nil {
		return fmt.Errorf("reading view: %w", err)
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encoding view: %w", err)
	}
	if err := m.kv.Set(ctx, m.Key(locationID), string(data), m.ttl); err != nil {
		return fmt.Errorf("writing %s: %w", m.Key(locationID), err)
	}

	m.mu.Lock()
	if view.Seq > m.written[locationID] {
		m.written[locationID] = view.Seq
	}
	m.mu.Unlock()
	return nil
}
