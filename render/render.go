// Package render streams frames out of an environment in order while
// requesting a bounded window of them concurrently.
package render

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/future"
)

// Source produces frames by index. Implementations are expected to be
// safe for concurrent RenderFrame calls; the host runtime's worker pool
// does the actual work.
type Source interface {
	NumFrames() int
	RenderFrame(ctx context.Context, n int) (entities.Output, error)
}

type config struct {
	prefetch int
	backlog  int
}

func defaultConfig() config {
	n := runtime.GOMAXPROCS(0)
	return config{prefetch: n, backlog: 2 * n}
}

// Option configures a stream.
type Option func(*config)

// WithPrefetch bounds how many frames may be requested concurrently.
func WithPrefetch(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

// WithBacklog bounds how many resolved-but-undelivered frames may
// accumulate before the stream pauses new requests. Values below the
// prefetch bound are raised to it.
func WithBacklog(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.backlog = n
		}
	}
}

// Stream returns one future per frame, strictly in frame order. At most
// the prefetch bound of frames are in flight at any moment; delivery
// lag beyond the backlog pauses further requests. The channel closes
// after the last frame, or early once a failure has been observed: no
// new frames are requested past a failed one.
func Stream(ctx context.Context, src Source, opts ...Option) <-chan *future.Future[entities.Output] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backlog < cfg.prefetch {
		cfg.backlog = cfg.prefetch
	}

	out := make(chan *future.Future[entities.Output], cfg.backlog)
	sem := semaphore.NewWeighted(int64(cfg.prefetch))
	var failed atomic.Bool

	go func() {
		defer close(out)
		total := src.NumFrames()
		for n := 0; n < total; n++ {
			if failed.Load() {
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				fut := future.Rejected[entities.Output](err)
				select {
				case out <- fut:
				default:
				}
				return
			}

			fut := future.New[entities.Output]()
			go func(n int) {
				defer sem.Release(1)
				if !fut.SetRunningOrNotifyCancel() {
					return
				}
				frame, err := src.RenderFrame(ctx, n)
				if err != nil {
					failed.Store(true)
					fut.SetError(err)
					return
				}
				fut.SetResult(frame)
			}(n)

			select {
			case out <- fut:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Collect drains a stream into a slice, in frame order. The first
// failed frame aborts the collection and cancels what is still pending.
func Collect(ctx context.Context, src Source, opts ...Option) ([]entities.Output, error) {
	// Own cancel scope so an early return unblocks the producer.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make([]entities.Output, 0, src.NumFrames())
	for fut := range Stream(streamCtx, src, opts...) {
		frame, err := fut.Result(ctx)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}
