package session

import (
	"context"
	"testing"
	"time"

	"github.com/stellarion/api/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type registryFixture struct {
	registry  *Registry
	providers []*scriptedProvider
	clock     time.Time
}

func newRegistryFixture(t *testing.T, maxSize int, ttl time.Duration) *registryFixture {
	t.Helper()
	f := &registryFixture{clock: fixedNow}
	cache := memory.NewProfileCache()
	f.registry = NewRegistry(func() *Store {
		p := &scriptedProvider{}
		f.providers = append(f.providers, p)
		return NewStore(p, cache, zap.NewNop(), DefaultConfig())
	}, maxSize, ttl, zap.NewNop())
	f.registry.now = func() time.Time { return f.clock }
	t.Cleanup(f.registry.Close)
	return f
}

func TestRegistry_GetOrCreate(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	id, store, created := f.registry.GetOrCreate("")
	require.True(t, created)
	require.NotEmpty(t, id)
	require.NotNil(t, store)

	againID, again, created := f.registry.GetOrCreate(id)
	assert.False(t, created)
	assert.Equal(t, id, againID)
	assert.Same(t, store, again)

	got, ok := f.registry.Get(id)
	assert.True(t, ok)
	assert.Same(t, store, got)
}

func TestRegistry_UnknownIDGetsFreshID(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	id, _, created := f.registry.GetOrCreate("attacker-chosen")
	assert.True(t, created)
	assert.NotEqual(t, "attacker-chosen", id)

	_, ok := f.registry.Get("attacker-chosen")
	assert.False(t, ok)
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	f := newRegistryFixture(t, 2, time.Hour)

	first, _, _ := f.registry.GetOrCreate("")
	second, _, _ := f.registry.GetOrCreate("")

	// Touch first so second becomes the eviction candidate.
	_, ok := f.registry.Get(first)
	require.True(t, ok)

	third, _, _ := f.registry.GetOrCreate("")

	_, ok = f.registry.Get(second)
	assert.False(t, ok)
	_, ok = f.registry.Get(first)
	assert.True(t, ok)
	_, ok = f.registry.Get(third)
	assert.True(t, ok)

	stats := f.registry.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, uint64(3), stats.Created)
	assert.Equal(t, uint64(1), stats.Evicted)

	f.providers[1].mu.Lock()
	defer f.providers[1].mu.Unlock()
	assert.True(t, f.providers[1].unsubbed, "evicted store is closed")
}

func TestRegistry_ExpiresIdleContexts(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	idle, _, _ := f.registry.GetOrCreate("")
	active, _, _ := f.registry.GetOrCreate("")

	f.clock = f.clock.Add(45 * time.Second)
	_, ok := f.registry.Get(active)
	require.True(t, ok)

	f.clock = f.clock.Add(30 * time.Second)
	assert.Equal(t, 1, f.registry.CleanupExpired())

	_, ok = f.registry.Get(idle)
	assert.False(t, ok)
	_, ok = f.registry.Get(active)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), f.registry.Stats().Expired)
}

func TestRegistry_ExpiredIDIsReplaced(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	id, _, _ := f.registry.GetOrCreate("")
	f.clock = f.clock.Add(2 * time.Minute)

	newID, _, created := f.registry.GetOrCreate(id)
	assert.True(t, created)
	assert.NotEqual(t, id, newID)
}

func TestRegistry_RemoveClosesStore(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	id, _, _ := f.registry.GetOrCreate("")
	f.registry.Remove(id)
	f.registry.Remove(id)

	_, ok := f.registry.Get(id)
	assert.False(t, ok)
	f.providers[0].mu.Lock()
	defer f.providers[0].mu.Unlock()
	assert.True(t, f.providers[0].unsubbed)
}

func TestRegistry_StatsCountsAuthenticated(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	_, store, _ := f.registry.GetOrCreate("")
	f.registry.GetOrCreate("")

	_, err := store.SignIn(context.Background(), "n@example.com", "secret1")
	require.NoError(t, err)

	stats := f.registry.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 10, stats.MaxSize)
	assert.Equal(t, 1, stats.Authenticated)
}

func TestRegistry_CleanupWorkerStops(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		f.registry.StartCleanupWorker(time.Millisecond, stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}

func TestRegistry_EvictsAnonymousBeforeSignedIn(t *testing.T) {
	f := newRegistryFixture(t, 3, time.Hour)

	signedIn, store, _ := f.registry.GetOrCreate("")
	_, err := store.SignIn(context.Background(), "kept@example.com", "secret1")
	require.NoError(t, err)

	// A burst of cookie-less visitors fills and keeps churning the registry.
	var last string
	for i := 0; i < 10; i++ {
		last, _, _ = f.registry.GetOrCreate("")
	}

	_, ok := f.registry.Get(signedIn)
	assert.True(t, ok, "signed-in context survives anonymous churn")
	_, ok = f.registry.Get(last)
	assert.True(t, ok)

	stats := f.registry.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 1, stats.Authenticated)
	assert.Equal(t, uint64(8), stats.Evicted)
}

func TestRegistry_EvictsSignedInWhenNoAnonymousLeft(t *testing.T) {
	f := newRegistryFixture(t, 1, time.Hour)

	first, store, _ := f.registry.GetOrCreate("")
	_, err := store.SignIn(context.Background(), "only@example.com", "secret1")
	require.NoError(t, err)

	f.registry.GetOrCreate("")

	_, ok := f.registry.Get(first)
	assert.False(t, ok)
	assert.Equal(t, 1, f.registry.Stats().Size)
}

func TestRegistry_Rotate(t *testing.T) {
	f := newRegistryFixture(t, 10, time.Minute)

	oldID, store, _ := f.registry.GetOrCreate("")

	newID, ok := f.registry.Rotate(oldID)
	require.True(t, ok)
	assert.NotEqual(t, oldID, newID)

	_, ok = f.registry.Get(oldID)
	assert.False(t, ok, "old id no longer resolves")
	got, ok := f.registry.Get(newID)
	require.True(t, ok)
	assert.Same(t, store, got)

	_, ok = f.registry.Rotate("unknown")
	assert.False(t, ok)

	stats := f.registry.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Rotated)

	// The rotated entry still takes part in LRU bookkeeping.
	f.registry.Remove(newID)
	assert.Equal(t, 0, f.registry.Stats().Size)
}
