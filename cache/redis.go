package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"queuewatch/models"
)

const (
	// MaxTicksStored bounds each per-source tick list.
	MaxTicksStored = 10000
	// DefaultTTL applies to snapshot-style keys.
	DefaultTTL = 24 * time.Hour
)

// RedisClient caches recent ticks and anomaly counters per source.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(opts Options) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

func ticksKey(source string) string {
	return fmt.Sprintf("ticks:%s", source)
}

func anomalyKey(source string) string {
	return fmt.Sprintf("anomaly:count:%s", source)
}

// StoreTick stores one detector tick for a source, newest first, and
// trims the list to its bound.
func (rc *RedisClient) StoreTick(tick models.Tick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("failed to marshal tick: %w", err)
	}

	key := ticksKey(tick.Source)
	if err := rc.client.LPush(rc.ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to store tick: %w", err)
	}
	rc.client.LTrim(rc.ctx, key, 0, MaxTicksStored-1)

	return nil
}

// RecentTicks retrieves the most recent count ticks for a source.
func (rc *RedisClient) RecentTicks(source string, count int64) ([]models.Tick, error) {
	data, err := rc.client.LRange(rc.ctx, ticksKey(source), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get ticks: %w", err)
	}

	ticks := make([]models.Tick, 0, len(data))
	for _, d := range data {
		var tick models.Tick
		if err := json.Unmarshal([]byte(d), &tick); err != nil {
			continue // Skip invalid entries
		}
		ticks = append(ticks, tick)
	}

	return ticks, nil
}

// IncrementAnomalyCount increments the anomaly counter for a source.
func (rc *RedisClient) IncrementAnomalyCount(source string) error {
	return rc.client.Incr(rc.ctx, anomalyKey(source)).Err()
}

// AnomalyCount returns the anomaly count for a source.
func (rc *RedisClient) AnomalyCount(source string) (int64, error) {
	count, err := rc.client.Get(rc.ctx, anomalyKey(source)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// StoreStatus caches the latest status snapshot for a source.
func (rc *RedisClient) StoreStatus(status models.SourceStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := fmt.Sprintf("status:%s", status.Name)
	if err := rc.client.Set(rc.ctx, key, data, DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}
	return nil
}

// HealthCheck checks Redis connectivity.
func (rc *RedisClient) HealthCheck() error {
	_, err := rc.client.Ping(rc.ctx).Result()
	return err
}

// Close closes the Redis connection.
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}
