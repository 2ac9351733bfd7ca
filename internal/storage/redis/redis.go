package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/ktrack/internal/config"
	"github.com/goodtune/ktrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyDescriptor = "ktrack:descriptor:current"
	keyConsent    = "ktrack:consent"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	descriptors  *descriptorStore
	consentStore *consentStore
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

	store := &Store{
		client:       client,
		descriptors:  &descriptorStore{client: client, now: time.Now},
		consentStore: &consentStore{client: client, now: time.Now},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Descriptors returns the DescriptorStore implementation
func (s *Store) Descriptors() storage.DescriptorStore {
	return s.descriptors
}

// Consent returns the ConsentStore implementation
func (s *Store) Consent() storage.ConsentStore {
	return s.consentStore
}
