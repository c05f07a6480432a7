package orchestrator

import (
	"context"
	"sync"
	"time"
)

var indicatorFrames = []string{"⏳", "⌛️"}

// Indicator is the user-visible "thinking" task that runs alongside a
// dispatch. The parent operation owns its lifetime and must stop it on
// every exit path.
type Indicator struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartIndicator spawns the frame loop. fn receives the next frame every
// interval; a nil fn yields a no-op indicator so callers can stop it
// unconditionally.
func StartIndicator(ctx context.Context, interval time.Duration, fn func(frame string)) *Indicator {
	ctx, cancel := context.WithCancel(ctx)
	ind := &Indicator{cancel: cancel, done: make(chan struct{})}

	if fn == nil {
		close(ind.done)
		return ind
	}

	go func() {
		defer close(ind.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for i := 1; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(indicatorFrames[i%len(indicatorFrames)])
			}
		}
	}()

	return ind
}

// Stop cancels the frame loop and waits for it to exit. Safe to call more
// than once.
func (i *Indicator) Stop() {
	i.once.Do(func() {
		i.cancel()
		<-i.done
	})
}
