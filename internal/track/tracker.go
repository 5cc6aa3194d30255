package track

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalkan/srec/internal/metrics"
	"github.com/kalkan/srec/internal/propagation"
)

// SessionSource yields the session to track.
type SessionSource interface {
	Session() (*Session, error)
}

// Tracker periodically recomputes the current sub-satellite point and fans
// it out to subscribers. It owns no timers until Start is called.
type Tracker struct {
	src    SessionSource
	logger *slog.Logger

	latest atomic.Pointer[propagation.SubPoint]

	mu   sync.Mutex
	subs map[chan propagation.SubPoint]struct{}
}

// NewTracker creates a tracker over src.
func NewTracker(src SessionSource, logger *slog.Logger) *Tracker {
	return &Tracker{
		src:    src,
		logger: logger,
		subs:   make(map[chan propagation.SubPoint]struct{}),
	}
}

// Handle controls a running tracking loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the loop and waits for it to exit. Safe to call more than once.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start begins refreshing the position every interval until ctx is done or
// the returned handle is stopped. The first refresh happens immediately.
func (tr *Tracker) Start(ctx context.Context, interval time.Duration) *Handle {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		tr.logger.Info("tracker started", "interval_seconds", interval.Seconds())

		tr.refresh(time.Now())
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				tr.logger.Info("tracker stopped")
				return
			case now := <-ticker.C:
				tr.refresh(now)
			}
		}
	}()
	return h
}

// refresh computes the position at now and publishes it.
func (tr *Tracker) refresh(now time.Time) {
	sess, err := tr.src.Session()
	if err != nil {
		tr.logger.Debug("tracker has no session", "error", err)
		return
	}
	pt, err := sess.Position(now.UTC())
	if err != nil {
		metrics.IncTrackerErrors()
		tr.logger.Warn("tracker position unresolved", "error", err)
		return
	}

	tr.latest.Store(&pt)
	metrics.SetTrackerPosition(pt.LatDeg, pt.LonDeg)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	for ch := range tr.subs {
		// Drop the update for slow subscribers; they get the next one.
		select {
		case ch <- pt:
		default:
		}
	}
}

// Latest returns the most recent position, if any.
func (tr *Tracker) Latest() (propagation.SubPoint, bool) {
	p := tr.latest.Load()
	if p == nil {
		return propagation.SubPoint{}, false
	}
	return *p, true
}

// Subscribe registers for position updates. The returned function
// unregisters and closes the channel.
func (tr *Tracker) Subscribe() (<-chan propagation.SubPoint, func()) {
	ch := make(chan propagation.SubPoint, 1)
	tr.mu.Lock()
	tr.subs[ch] = struct{}{}
	tr.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			tr.mu.Lock()
			delete(tr.subs, ch)
			tr.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (tr *Tracker) Subscribers() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.subs)
}
