package render_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/render"
)

// fakeSource renders frame n to its decimal text after an optional
// delay, tracking how many requests are in flight at once.
type fakeSource struct {
	frames   int
	delay    time.Duration
	failAt   int // -1 disables
	inFlight atomic.Int64
	peak     atomic.Int64

	mu        sync.Mutex
	requested []int
}

func newFakeSource(frames int) *fakeSource {
	return &fakeSource{frames: frames, failAt: -1}
}

func (s *fakeSource) NumFrames() int { return s.frames }

func (s *fakeSource) RenderFrame(ctx context.Context, n int) (entities.Output, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	s.mu.Lock()
	s.requested = append(s.requested, n)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return entities.Output{}, ctx.Err()
		}
	}
	if n == s.failAt {
		return entities.Output{}, fmt.Errorf("frame %d unavailable", n)
	}
	return entities.Output{Kind: "frame", Data: []byte(strconv.Itoa(n))}, nil
}

func TestCollect_DeliversInFrameOrder(t *testing.T) {
	src := newFakeSource(32)
	src.delay = time.Millisecond

	frames, err := render.Collect(context.Background(), src, render.WithPrefetch(8))
	require.NoError(t, err)
	require.Len(t, frames, 32)

	for i, frame := range frames {
		assert.Equal(t, strconv.Itoa(i), string(frame.Data))
	}
}

func TestStream_RespectsPrefetchBound(t *testing.T) {
	src := newFakeSource(24)
	src.delay = 2 * time.Millisecond

	_, err := render.Collect(context.Background(), src,
		render.WithPrefetch(4), render.WithBacklog(4))
	require.NoError(t, err)

	assert.LessOrEqual(t, src.peak.Load(), int64(4),
		"no more than the prefetch bound of frames may be in flight")
}

func TestStream_StopsRequestingAfterFailure(t *testing.T) {
	src := newFakeSource(64)
	src.failAt = 3
	src.delay = time.Millisecond

	_, err := render.Collect(context.Background(), src, render.WithPrefetch(2))
	require.Error(t, err)
	assert.ErrorContains(t, err, "frame 3 unavailable")

	src.mu.Lock()
	requested := len(src.requested)
	src.mu.Unlock()
	assert.Less(t, requested, 64, "frames past the failure must not all be requested")
}

func TestCollect_CancelledContext(t *testing.T) {
	src := newFakeSource(128)
	src.delay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := render.Collect(ctx, src, render.WithPrefetch(2))
	assert.Error(t, err)
}

func TestStream_EmptySource(t *testing.T) {
	frames, err := render.Collect(context.Background(), newFakeSource(0))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestWithBacklog_RaisedToPrefetch(t *testing.T) {
	// A backlog below the prefetch bound must not deadlock delivery.
	src := newFakeSource(16)

	frames, err := render.Collect(context.Background(), src,
		render.WithPrefetch(8), render.WithBacklog(1))
	require.NoError(t, err)
	assert.Len(t, frames, 16)
}