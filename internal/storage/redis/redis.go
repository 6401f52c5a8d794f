package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tabnova/internal/config"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Shared namespace keys, relative to the configured prefix.
const (
	keyMonitoredApplications = "monitoredApplications"
	keyMonitoredSelection    = "monitoredSelection."
	keyMonitoredLimit        = "monitoredLimit."
	keyAppTokenMappings      = "appTokenMappings"
	keyShieldedApps          = "shieldedApps"
	keyThresholdEvents       = "thresholdEvents"
	keyThresholdNotify       = "thresholdEvents:notify"
	keyThresholdCheckpoints  = "thresholdCheckpoints"
	keyDailyAppUsage         = "dailyAppUsage"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client     *redis.Client
	usageStore *usageStore
	eventLog   *eventLog
	appStore   *appStore
}

// keys resolves namespace keys under a prefix
type keys struct {
	prefix string
}

func (k keys) key(name string) string {
	return k.prefix + name
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client, cfg.KeyPrefix), nil
}

func newStore(client *redis.Client, prefix string) *Store {
	k := keys{prefix: prefix}
	return &Store{
		client:     client,
		usageStore: &usageStore{client: client, keys: k},
		eventLog:   &eventLog{client: client, keys: k},
		appStore:   &appStore{client: client, keys: k},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Events returns the EventLog implementation
func (s *Store) Events() storage.EventLog {
	return s.eventLog
}

// Apps returns the AppStore implementation
func (s *Store) Apps() storage.AppStore {
	return s.appStore
}
