package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileCache(t *testing.T) {
	ctx := context.Background()
	cache := NewProfileCache()

	t.Run("miss", func(t *testing.T) {
		profile, err := cache.Get(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, profile)
	})

	t.Run("put then get returns a decoded copy", func(t *testing.T) {
		profile := models.NewUserProfile("uid-1", "deneb@stellarion.io", "Deneb", rbac.RoleModerator, time.Now().UTC())
		require.NoError(t, cache.Put(ctx, profile))

		got, err := cache.Get(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleModerator, got.Role)
		assert.NotSame(t, profile, got)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("corrupt entry", func(t *testing.T) {
		cache.SetRaw("uid-bad", []byte(`{"id":"uid-bad","role":"overlord"}`))
		_, err := cache.Get(ctx, "uid-bad")
		assert.ErrorIs(t, err, repositories.ErrCorruptProfile)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, cache.Delete(ctx, "uid-1"))
		got, err := cache.Get(ctx, "uid-1")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := cache.Get(cancelled, "uid-1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
