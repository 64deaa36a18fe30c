package repositories

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowReader struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *slowReader) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	r.calls.Add(1)
	<-r.release
	if r.err != nil {
		return nil, r.err
	}
	return models.NewUserProfile(id, id+"@example.com", "", rbac.RoleGuide, time.Now()), nil
}

func TestCoalescingReader_SharesInFlightLookup(t *testing.T) {
	inner := &slowReader{release: make(chan struct{})}
	reader := NewCoalescingReader(inner)

	const callers = 5
	results := make([]*models.UserProfile, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := reader.GetByID(context.Background(), "u1")
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, rbac.RoleGuide, p.Role)
	}
	assert.NotSame(t, results[0], results[1], "callers get their own copy")
}

func TestCoalescingReader_PropagatesErrors(t *testing.T) {
	inner := &slowReader{release: make(chan struct{}), err: ErrProfileNotFound}
	close(inner.release)

	_, err := NewCoalescingReader(inner).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestCoalescingReader_CallerDeadline(t *testing.T) {
	inner := &slowReader{release: make(chan struct{})}
	defer close(inner.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewCoalescingReader(inner).GetByID(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
