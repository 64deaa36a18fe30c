package memory

import (
	"context"
	"sync"

	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories"
)

// ProfileCache keeps encoded profiles in process memory. Entries are stored in
// their serialized form so reads behave like the Redis cache.
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewProfileCache creates an empty in-memory profile cache
func NewProfileCache() *ProfileCache {
	return &ProfileCache{entries: make(map[string][]byte)}
}

// Get retrieves a profile by user id
func (c *ProfileCache) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	data, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return repositories.DecodeProfile(data)
}

// Put stores a profile
func (c *ProfileCache) Put(ctx context.Context, profile *models.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := repositories.EncodeProfile(profile)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[profile.ID] = data
	c.mu.Unlock()
	return nil
}

// Delete removes a profile
func (c *ProfileCache) Delete(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}

// Ping always succeeds
func (c *ProfileCache) Ping(context.Context) error {
	return nil
}

// SetRaw stores an arbitrary payload. Tests use it to plant corrupt entries.
func (c *ProfileCache) SetRaw(userID string, data []byte) {
	c.mu.Lock()
	c.entries[userID] = data
	c.mu.Unlock()
}

// Len returns the number of cached profiles
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
