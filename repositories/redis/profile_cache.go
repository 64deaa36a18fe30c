package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories"
	"go.uber.org/zap"
)

// KeyPrefix namespaces cached profiles
const KeyPrefix = "userProfile:"

// ProfileCache implements repositories.ProfileCache on Redis
type ProfileCache struct {
	client *goredis.Client
	ttl    time.Duration // zero keeps entries forever
	logger *zap.Logger
}

// NewProfileCache creates a Redis-backed profile cache
func NewProfileCache(client *goredis.Client, ttl time.Duration, logger *zap.Logger) repositories.ProfileCache {
	return &ProfileCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// NewClient parses a redis:// URL and verifies the connection
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Get retrieves a profile by user id
func (c *ProfileCache) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	data, err := c.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached profile: %w", err)
	}

	profile, err := repositories.DecodeProfile(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("profile cache hit", zap.String("user_id", userID))
	return profile, nil
}

// Put stores a profile
func (c *ProfileCache) Put(ctx context.Context, profile *models.UserProfile) error {
	data, err := repositories.EncodeProfile(profile)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key(profile.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	return nil
}

// Delete removes a profile
func (c *ProfileCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to delete cached profile: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (c *ProfileCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func key(userID string) string {
	return KeyPrefix + userID
}
