package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "synthralos:signal:"

// Pending signals outlive worker restarts but not forever; an approval
// nobody consumes within the TTL is lost and must be re-delivered.
const signalTTL = 7 * 24 * time.Hour

// RedisStore is the shared Store used when workers run as separate
// processes.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, logger *slog.Logger, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return &RedisStore{
		client: client,
		logger: logger.With("module", "signals"),
	}, nil
}

func signalKey(executionID, nodeID string) string {
	return keyPrefix + executionID + ":" + nodeID
}

func (s *RedisStore) Put(ctx context.Context, executionID, nodeID string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal signal payload: %w", err)
	}

	err = s.client.Set(ctx, signalKey(executionID, nodeID), payload, signalTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to store signal for execution %s node %s: %w", executionID, nodeID, err)
	}

	return nil
}

func (s *RedisStore) Take(ctx context.Context, executionID, nodeID string) (map[string]any, bool, error) {
	payload, err := s.client.GetDel(ctx, signalKey(executionID, nodeID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to take signal for execution %s node %s: %w", executionID, nodeID, err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal signal payload: %w", err)
	}

	return data, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
