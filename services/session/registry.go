package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Builder creates the Store for a new browser context
type Builder func() *Store

// registryEntry is one browser context with its idle deadline
type registryEntry struct {
	id       string
	store    *Store
	lastSeen time.Time
	element  *list.Element // For LRU tracking
}

func (e *registryEntry) isExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.lastSeen) > ttl
}

// Registry maps browser-context ids to their Stores.
// Idle contexts expire after the TTL. When full, the least recently used context that
// is not signed in is evicted; a signed-in context goes only when none of the oldest
// evictScanLimit contexts is anonymous.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	build   Builder
	now     func() time.Time
	logger  *zap.Logger

	created uint64
	evicted uint64
	expired uint64
	rotated uint64
}

// evictScanLimit bounds how far from the LRU end eviction looks for an anonymous context
const evictScanLimit = 256

// NewRegistry creates a registry holding at most maxSize contexts
func NewRegistry(build Builder, maxSize int, ttl time.Duration, logger *zap.Logger) *Registry {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		build:   build,
		now:     time.Now,
		logger:  logger,
	}
}

// Get returns the Store for id and marks it as recently used
func (r *Registry) Get(id string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return entry.store, true
}

// GetOrCreate returns the Store for id, or creates a new context under a fresh id
// when id is unknown or expired. Client-supplied ids are never adopted.
func (r *Registry) GetOrCreate(id string) (string, *Store, bool) {
	r.mu.Lock()
	if entry, ok := r.lookup(id); ok {
		r.mu.Unlock()
		return entry.id, entry.store, false
	}
	r.mu.Unlock()

	// Build outside the lock: the provider may report synchronously on subscribe.
	store := r.build()
	newID := uuid.NewString()

	r.mu.Lock()
	var victim *Store
	if r.lruList.Len() >= r.maxSize {
		victim = r.evictLRU()
	}
	entry := &registryEntry{id: newID, store: store, lastSeen: r.now()}
	entry.element = r.lruList.PushFront(newID)
	r.entries[newID] = entry
	r.created++
	r.mu.Unlock()

	if victim != nil {
		victim.Close()
	}
	return newID, store, true
}

// Rotate moves the live context under id to a fresh id and returns it.
// The old id stops resolving at once.
func (r *Registry) Rotate(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.lookup(id)
	if !ok {
		return "", false
	}
	newID := uuid.NewString()
	delete(r.entries, id)
	entry.id = newID
	entry.element.Value = newID
	r.entries[newID] = entry
	r.rotated++
	return newID, true
}

// Remove discards a context
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		r.removeEntry(id)
	}
	r.mu.Unlock()

	if ok {
		entry.store.Close()
	}
}

// CleanupExpired removes all idle contexts and returns how many were removed
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	now := r.now()
	var stale []*Store
	for id, entry := range r.entries {
		if entry.isExpired(now, r.ttl) {
			stale = append(stale, entry.store)
			r.removeEntry(id)
		}
	}
	r.expired += uint64(len(stale))
	r.mu.Unlock()

	for _, store := range stale {
		store.Close()
	}
	if len(stale) > 0 {
		r.logger.Debug("expired idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// StartCleanupWorker periodically removes idle contexts until stopCh closes
func (r *Registry) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// Close discards every context
func (r *Registry) Close() {
	r.mu.Lock()
	stores := make([]*Store, 0, len(r.entries))
	for _, entry := range r.entries {
		stores = append(stores, entry.store)
	}
	r.entries = make(map[string]*registryEntry)
	r.lruList.Init()
	r.mu.Unlock()

	for _, store := range stores {
		store.Close()
	}
}

// Stats returns registry statistics
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		Size:    r.lruList.Len(),
		MaxSize: r.maxSize,
		Created: r.created,
		Evicted: r.evicted,
		Expired: r.expired,
		Rotated: r.rotated,
	}
	for _, entry := range r.entries {
		if entry.store.Snapshot().Authenticated() {
			stats.Authenticated++
		}
	}
	return stats
}

// RegistryStats represents registry statistics
type RegistryStats struct {
	Size          int    `json:"size"`
	MaxSize       int    `json:"maxSize"`
	Authenticated int    `json:"authenticated"`
	Created       uint64 `json:"created"`
	Evicted       uint64 `json:"evicted"`
	Expired       uint64 `json:"expired"`
	Rotated       uint64 `json:"rotated"`
}

// lookup finds a live entry and touches it (must be called with lock held)
func (r *Registry) lookup(id string) (*registryEntry, bool) {
	if id == "" {
		return nil, false
	}
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	now := r.now()
	if entry.isExpired(now, r.ttl) {
		return nil, false
	}
	entry.lastSeen = now
	r.lruList.MoveToFront(entry.element)
	return entry, true
}

// removeEntry removes an entry (must be called with lock held)
func (r *Registry) removeEntry(id string) {
	if entry, ok := r.entries[id]; ok {
		r.lruList.Remove(entry.element)
		delete(r.entries, id)
	}
}

// evictLRU evicts the least recently used anonymous entry, falling back to the least
// recently used entry (must be called with lock held)
func (r *Registry) evictLRU() *Store {
	back := r.lruList.Back()
	if back == nil {
		return nil
	}

	victim := back
	scanned := 0
	for e := back; e != nil && scanned < evictScanLimit; e = e.Prev() {
		if !r.entries[e.Value.(string)].store.Snapshot().Authenticated() {
			victim = e
			break
		}
		scanned++
	}

	id := victim.Value.(string)
	entry := r.entries[id]
	r.removeEntry(id)
	r.evicted++
	return entry.store
}
