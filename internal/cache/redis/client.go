package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/pkg/logger"
)

// Client caches reputation score responses and search results. The cache is
// strictly an acceleration layer: a miss or a redis outage falls back to
// SQLite.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func scoreKey(agentID string) string {
	return fmt.Sprintf("score:%s", agentID)
}

func (c *Client) SetScore(ctx context.Context, agentID string, score interface{}) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	if err := c.client.Set(ctx, scoreKey(agentID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set score cache: %w", err)
	}
	return nil
}

func (c *Client) GetScore(ctx context.Context, agentID string, score interface{}) (bool, error) {
	data, err := c.client.Get(ctx, scoreKey(agentID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get score cache: %w", err)
	}

	if err := json.Unmarshal(data, score); err != nil {
		return false, fmt.Errorf("failed to unmarshal score: %w", err)
	}
	return true, nil
}

func (c *Client) InvalidateScore(ctx context.Context, agentID string) error {
	if err := c.client.Del(ctx, scoreKey(agentID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate score cache: %w", err)
	}
	return nil
}

func searchKey(queryHash string) string {
	return fmt.Sprintf("search:%s", queryHash)
}

func (c *Client) SetSearch(ctx context.Context, queryHash string, response interface{}) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal search response: %w", err)
	}

	if err := c.client.Set(ctx, searchKey(queryHash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set search cache: %w", err)
	}
	return nil
}

func (c *Client) GetSearch(ctx context.Context, queryHash string, response interface{}) (bool, error) {
	data, err := c.client.Get(ctx, searchKey(queryHash)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get search cache: %w", err)
	}

	if err := json.Unmarshal(data, response); err != nil {
		return false, fmt.Errorf("failed to unmarshal search response: %w", err)
	}
	return true, nil
}

// InvalidateSearches drops all cached search responses. Called whenever the
// agent set changes; search keys are hashed so a targeted delete is not
// possible.
func (c *Client) InvalidateSearches(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "search:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}
	return nil
}
