package stream

import "sync"

// Refusal reasons reported by streamLimiter.acquire.
const (
	limitClient = "client"
	limitServer = "server"
)

// streamLimiter caps concurrent position streams per client address and
// across the whole server.
type streamLimiter struct {
	mu        sync.Mutex
	held      map[string]int
	active    int
	perClient int
	total     int
}

func newStreamLimiter(perClient, total int) *streamLimiter {
	if perClient < 1 {
		perClient = 10
	}
	if total < perClient {
		total = perClient
	}
	return &streamLimiter{held: make(map[string]int), perClient: perClient, total: total}
}

// acquire reserves a slot for client. On success reason is empty and release
// frees the slot; calling release again is a no-op. On refusal release is nil
// and reason names the cap that was hit.
func (l *streamLimiter) acquire(client string) (release func(), reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.active >= l.total:
		return nil, limitServer
	case l.held[client] >= l.perClient:
		return nil, limitClient
	}
	l.held[client]++
	l.active++

	var once sync.Once
	return func() { once.Do(func() { l.free(client) }) }, ""
}

func (l *streamLimiter) free(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.held[client]; n > 1 {
		l.held[client] = n - 1
	} else {
		delete(l.held, client)
	}
	l.active--
}

// count returns the streams held by client.
func (l *streamLimiter) count(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[client]
}

// inUse returns the streams held across all clients.
func (l *streamLimiter) inUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
