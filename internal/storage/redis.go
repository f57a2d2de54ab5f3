package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

const scanBatch = 100

// RedisOptions configures NewRedisStorage
type RedisOptions struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	// ExpireTokens gives token keys a Redis TTL matching their ExpiresAt
	ExpireTokens bool
}

var _ Storage = (*RedisStorage)(nil)

// RedisStorage keeps clients and tokens in Redis as JSON values. Writes are
// single commands; there are no cross-key transactions.
type RedisStorage struct {
	client       redis.UniversalClient
	keyPrefix    string
	expireTokens bool
}

// NewRedisStorage connects to Redis and checks the connection
func NewRedisStorage(ctx context.Context, opts RedisOptions) (*RedisStorage, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to redis", map[string]any{
		"addr":       opts.Addr,
		"db":         opts.DB,
		"key_prefix": opts.KeyPrefix,
	})

	return NewRedisStorageWithClient(client, opts.KeyPrefix, opts.ExpireTokens), nil
}

// NewRedisStorageWithClient wraps a pre-configured client, e.g. one pointed at miniredis
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string, expireTokens bool) *RedisStorage {
	return &RedisStorage{
		client:       client,
		keyPrefix:    keyPrefix,
		expireTokens: expireTokens,
	}
}

func (s *RedisStorage) clientKey(clientID string) string {
	return s.keyPrefix + "client:" + clientID
}

func (s *RedisStorage) tokenKey(token string) string {
	return s.keyPrefix + "token:" + tokenKey(token)
}

func (s *RedisStorage) codeKey(codeID string) string {
	return s.keyPrefix + "code:" + codeID
}

func (s *RedisStorage) CreateClient(ctx context.Context, client *Client) error {
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	if err := s.client.Set(ctx, s.clientKey(client.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

func (s *RedisStorage) GetClient(ctx context.Context, clientID string) (*Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

func (s *RedisStorage) StoreToken(ctx context.Context, token string, record *TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	var ttl time.Duration
	if s.expireTokens && !record.ExpiresAt.IsZero() {
		ttl = time.Until(record.ExpiresAt)
		if ttl <= 0 {
			// already expired, nothing worth storing
			return nil
		}
	}

	if err := s.client.Set(ctx, s.tokenKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *RedisStorage) GetToken(ctx context.Context, token string) (*TokenRecord, error) {
	data, err := s.client.Get(ctx, s.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var record TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &record, nil
}

// DeleteExpiredTokens scans token keys. With ExpireTokens set Redis has
// usually removed them already and the scan finds nothing.
func (s *RedisStorage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
		match   = s.keyPrefix + "token:*"
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan tokens: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("failed to read token: %w", err)
			}
			var record TokenRecord
			if err := json.Unmarshal(data, &record); err != nil {
				log.LogWarnWithFields("storage", "Skipping unreadable token record", map[string]any{
					"key":   key,
					"error": err.Error(),
				})
				continue
			}
			if !record.Expired(now) {
				continue
			}
			n, err := s.client.Del(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete token: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisStorage) MarkCodeUsed(ctx context.Context, codeID string, expiresAt time.Time) (bool, error) {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			// keep the marker briefly so concurrent replays still collide
			ttl = time.Minute
		}
	}
	first, err := s.client.SetNX(ctx, s.codeKey(codeID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record code use: %w", err)
	}
	return first, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
