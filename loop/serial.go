package loop

import (
	"context"
	"sync"

	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/future"
)

// Serial is a single-goroutine FIFO scheduler, the reference EventLoop
// adapter. Callables posted via FromThread run one at a time, in
// submission order, on the loop's home goroutine.
type Serial struct {
	jobs chan serialJob
	quit chan struct{}

	mu     sync.Mutex
	closed bool
}

type serialJob struct {
	ctx context.Context
	fn  Func
	fut *future.Future[any]
}

// SerialOption configures a Serial loop.
type SerialOption func(*serialConfig)

type serialConfig struct {
	backlog int
}

func defaultSerialConfig() serialConfig {
	return serialConfig{backlog: 64}
}

// WithBacklog sets how many callables may queue before FromThread
// blocks.
func WithBacklog(n int) SerialOption {
	return func(c *serialConfig) {
		if n > 0 {
			c.backlog = n
		}
	}
}

// NewSerial creates a detached serial loop; Attach starts its home
// goroutine.
func NewSerial(opts ...SerialOption) *Serial {
	cfg := defaultSerialConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Serial{
		jobs: make(chan serialJob, cfg.backlog),
		quit: make(chan struct{}),
	}
}

// Attach starts the home goroutine. Implements EventLoop.
func (s *Serial) Attach() error {
	go s.run()
	return nil
}

// Detach stops the home goroutine. Callables still queued are
// cancelled, and the loop cannot be reattached; create a new one.
// Implements EventLoop.
func (s *Serial) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)
}

func (s *Serial) run() {
	for {
		select {
		case job := <-s.jobs:
			s.execute(job)
		case <-s.quit:
			s.drain()
			return
		}
	}
}

func (s *Serial) drain() {
	for {
		select {
		case job := <-s.jobs:
			job.fut.Cancel()
		default:
			return
		}
	}
}

func (s *Serial) execute(job serialJob) {
	if !job.fut.SetRunningOrNotifyCancel() {
		return
	}
	value, err := job.fn(job.ctx)
	if err != nil {
		job.fut.SetError(err)
		return
	}
	job.fut.SetResult(value)
}

// FromThread queues fn onto the home goroutine. Delivery is FIFO per
// loop. After Detach the returned future is cancelled.
func (s *Serial) FromThread(ctx context.Context, fn Func) *future.Future[any] {
	fut := future.New[any]()
	job := serialJob{ctx: ctx, fn: fn, fut: fut}

	// Queue under the mutex so no job can slip in between Detach and the
	// final drain; the home goroutine keeps consuming while we hold it.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		fut.Cancel()
		return fut
	}
	select {
	case s.jobs <- job:
	case <-s.quit:
		fut.Cancel()
	}
	return fut
}

// WrapCancelled translates the core's cancellation into the
// context-idiomatic form callers of a Go scheduler expect.
func (s *Serial) WrapCancelled(err error) error {
	if errors.IsCancelled(err) {
		return context.Canceled
	}
	return err
}
