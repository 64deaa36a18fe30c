// Package mirror pushes profile snapshots to the remote system of record in the
// background. Pushes are best-effort: failures are logged and never retried.
package mirror

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stellarion/api/models"
	"go.uber.org/zap"
)

// Envelope is one queued profile push
type Envelope struct {
	Profile  *models.UserProfile `json:"profile"`
	QueuedAt time.Time           `json:"queuedAt"`
}

// Sink delivers a profile snapshot to a remote store
type Sink interface {
	Name() string
	Push(ctx context.Context, env Envelope) error
}

// Mirror is what the session layer sees of the dispatcher
type Mirror interface {
	Enqueue(profile *models.UserProfile) error
}

// Dispatcher fans queued profiles out to a Sink on a fixed pool of workers
type Dispatcher struct {
	sink        Sink
	logger      *zap.Logger
	queue       chan Envelope
	workerCount int
	bufferSize  int
	timeout     time.Duration
	now         func() time.Time
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize  int           // Size of the envelope buffer channel
	WorkerCount int           // Number of concurrent workers
	Timeout     time.Duration // Per-push deadline
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  256,
		WorkerCount: 2,
		Timeout:     5 * time.Second,
	}
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(sink Sink, logger *zap.Logger, config Config) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Dispatcher{
		sink:        sink,
		logger:      logger,
		queue:       make(chan Envelope, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		timeout:     config.Timeout,
		now:         time.Now,
	}
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("mirror dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started mirror dispatcher",
		zap.String("sink", d.sink.Name()),
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))

	return nil
}

// Stop drains queued pushes and stops the workers.
// Pushes still queued when the timeout expires are abandoned.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("mirror dispatcher not running")
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("stopping mirror dispatcher", zap.Int("pending", len(d.queue)))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("mirror dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("mirror dispatcher stop timeout after %v", timeout)
	}
}

// Enqueue schedules a push of a copy of profile. It never blocks: when the buffer
// is full the push is dropped and logged.
func (d *Dispatcher) Enqueue(profile *models.UserProfile) error {
	if profile == nil {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		return fmt.Errorf("mirror dispatcher not running")
	}

	env := Envelope{Profile: profile.Clone(), QueuedAt: d.now().UTC()}
	select {
	case d.queue <- env:
		return nil
	default:
		d.dropped.Add(1)
		d.logger.Warn("mirror queue full, dropping profile push",
			zap.String("user_id", profile.ID))
		return fmt.Errorf("mirror buffer full")
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("mirror worker started", zap.Int("worker_id", id))

	for env := range d.queue {
		if err := d.deliver(env); err != nil {
			d.failed.Add(1)
			d.logger.Error("mirror sync failed",
				zap.Int("worker_id", id),
				zap.String("sink", d.sink.Name()),
				zap.String("user_id", env.Profile.ID),
				zap.Error(err))
			continue
		}
		d.delivered.Add(1)
	}

	d.logger.Debug("mirror worker stopped", zap.Int("worker_id", id))
}

func (d *Dispatcher) deliver(env Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.sink.Push(ctx, env)
}

// GetStats returns statistics about the dispatcher
func (d *Dispatcher) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		Sink:        d.sink.Name(),
		BufferSize:  d.bufferSize,
		Pending:     len(d.queue),
		WorkerCount: d.workerCount,
		Delivered:   d.delivered.Load(),
		Failed:      d.failed.Load(),
		Dropped:     d.dropped.Load(),
		Started:     d.started && !d.stopped,
	}
}

// Stats represents dispatcher statistics
type Stats struct {
	Sink        string `json:"sink"`
	BufferSize  int    `json:"bufferSize"`
	Pending     int    `json:"pending"`
	WorkerCount int    `json:"workerCount"`
	Delivered   uint64 `json:"delivered"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
	Started     bool   `json:"started"`
}

// Discard is a Mirror that drops every push; used when no sink is configured.
type Discard struct{}

// Enqueue does nothing
func (Discard) Enqueue(*models.UserProfile) error { return nil }
