package repositories

import (
	"context"

	"github.com/stellarion/api/models"
	"golang.org/x/sync/singleflight"
)

// CoalescingReader collapses concurrent lookups of the same id into one call to
// the wrapped reader. Every caller gets its own copy of the result.
type CoalescingReader struct {
	reader ProfileReader
	group  singleflight.Group
}

// NewCoalescingReader wraps reader
func NewCoalescingReader(reader ProfileReader) *CoalescingReader {
	return &CoalescingReader{reader: reader}
}

// GetByID returns the profile for id, sharing an in-flight lookup when there is one.
// A caller whose ctx ends first stops waiting; the shared lookup keeps running
// until the first caller's deadline.
func (c *CoalescingReader) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	ch := c.group.DoChan(id, func() (interface{}, error) {
		lookupCtx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithDeadline(lookupCtx, deadline)
			defer cancel()
		}
		return c.reader.GetByID(lookupCtx, id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.UserProfile).Clone(), nil
	}
}
