package chunkmap

import (
	"context"
	"sync"
	"time"

	"github.com/meigma/blobcache"
)

// broadcaster wakes every blocked waiter whenever any chunk's state
// changes, bounded by blobcache.SingleInflightWaitTimeout (§4.A). Neither
// variant's state transitions are fine-grained enough to justify a
// per-chunk channel, so one broadcaster is shared map-wide.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

// wake wakes every goroutine currently blocked in wait.
func (b *broadcaster) wake() {
	b.mu.Lock()
	old := b.ch
	b.ch = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// wait blocks until wake is called, ctx is done, or timeout elapses,
// whichever comes first. check is re-evaluated by the caller after wait
// returns nil; wait itself carries no result.
func (b *broadcaster) wait(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return blobcache.ErrTimeout
	}
}
