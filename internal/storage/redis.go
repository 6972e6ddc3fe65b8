package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/rp"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	scanBatchSize = 100
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore keeps RPs in Redis as JSON strings under "<prefix><oxd_id>".
// Create uses SET NX and Update uses SET XX so that the existence check and
// the write are a single atomic command.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	keys      keyedMutex
	logger    *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = config.DefaultRedisKeyPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, logger: logger}
}

func (s *RedisStore) key(oxdID string) string {
	return s.keyPrefix + oxdID
}

func (s *RedisStore) Create(ctx context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding rp: %w", err)
	}
	unlock := s.keys.Lock(r.OxdID)
	defer unlock()

	ok, err := s.client.SetNX(ctx, s.key(r.OxdID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("storing rp: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, r.OxdID)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding rp: %w", err)
	}
	unlock := s.keys.Lock(r.OxdID)
	defer unlock()

	ok, err := s.client.SetXX(ctx, s.key(r.OxdID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("updating rp: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.OxdID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, oxdID string) (rp.RP, error) {
	data, err := s.client.Get(ctx, s.key(oxdID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rp.RP{}, fmt.Errorf("%w: %s", ErrNotFound, oxdID)
	}
	if err != nil {
		return rp.RP{}, fmt.Errorf("reading rp: %w", err)
	}

	var r rp.RP
	if err := json.Unmarshal(data, &r); err != nil {
		return rp.RP{}, fmt.Errorf("corrupted rp entry %s: %w", oxdID, err)
	}
	return r, nil
}

// scanKeys walks all RP keys and calls fn with each batch.
func (s *RedisStore) scanKeys(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scanning rps: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *RedisStore) RemoveAll(ctx context.Context) error {
	removed := 0
	err := s.scanKeys(ctx, func(keys []string) error {
		n, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("deleting rps: %w", err)
		}
		removed += int(n)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("removed all rps", "storage", "redis", "count", removed)
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (int, error) {
	count := 0
	err := s.scanKeys(ctx, func(keys []string) error {
		count += len(keys)
		return nil
	})
	return count, err
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
