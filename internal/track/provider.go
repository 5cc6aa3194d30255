package track

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/tle"
)

// ErrNoDataset is returned when no TLE record has been loaded yet.
var ErrNoDataset = errors.New("no TLE record loaded")

// sessionCache holds the session built for one loaded dataset.
// Immutable after construction; safe for concurrent reads.
type sessionCache struct {
	session  *Session
	loadedAt time.Time
	err      error
}

// Provider hands out the session for the store's current dataset,
// rebuilding it when the dataset is reloaded.
type Provider struct {
	store  *tle.Store
	pool   *propagation.WorkerPool
	logger *slog.Logger
	cache  atomic.Pointer[sessionCache]
	mu     sync.Mutex // serializes rebuilds
}

// NewProvider creates a Provider over store.
func NewProvider(store *tle.Store, pool *propagation.WorkerPool, logger *slog.Logger) *Provider {
	return &Provider{
		store:  store,
		pool:   pool,
		logger: logger,
	}
}

// Session returns the session for the current dataset.
// Rebuilds the cache if the dataset has changed (double-checked locking).
func (p *Provider) Session() (*Session, error) {
	ds := p.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}

	if c := p.cache.Load(); c != nil && c.loadedAt.Equal(ds.LoadedAt) {
		return c.session, c.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.cache.Load(); c != nil && c.loadedAt.Equal(ds.LoadedAt) {
		return c.session, c.err
	}

	sess, err := NewSession(ds.Record, p.pool, p.logger)
	if err != nil {
		p.logger.Error("session init failed", "norad_id", ds.Record.NORADID, "source", ds.Source, "error", err)
	} else {
		p.logger.Info("session rebuilt",
			"norad_id", ds.Record.NORADID,
			"name", ds.Record.Name,
			"loaded_at", ds.LoadedAt.Format(time.RFC3339),
		)
	}
	p.cache.Store(&sessionCache{session: sess, loadedAt: ds.LoadedAt, err: err})
	return sess, err
}
