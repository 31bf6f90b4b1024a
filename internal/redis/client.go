package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"authcore/internal/config"
)

// Client wraps the Redis client with application-specific methods
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection to Redis
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key prefixes
const (
	RolePermissionsPrefix = "roleperms:"
)

func rolePermissionsKey(appID, role string) string {
	return fmt.Sprintf("%s%s:%s", RolePermissionsPrefix, appID, role)
}

// CacheRolePermissions stores the permission list of one app role.
func (c *Client) CacheRolePermissions(ctx context.Context, appID, role string, permissions []string, ttl time.Duration) error {
	data, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return c.rdb.Set(ctx, rolePermissionsKey(appID, role), data, ttl).Err()
}

// GetCachedRolePermissions retrieves a cached permission list. The second
// return value is false on a cache miss.
func (c *Client) GetCachedRolePermissions(ctx context.Context, appID, role string) ([]string, bool, error) {
	data, err := c.rdb.Get(ctx, rolePermissionsKey(appID, role)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached permissions: %w", err)
	}

	var permissions []string
	if err := json.Unmarshal(data, &permissions); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached permissions: %w", err)
	}
	return permissions, true, nil
}

// InvalidateRolePermissions drops the cache entry for one app role. Called
// after role writes so readers never serve stale grants.
func (c *Client) InvalidateRolePermissions(ctx context.Context, appID, role string) error {
	return c.rdb.Del(ctx, rolePermissionsKey(appID, role)).Err()
}
