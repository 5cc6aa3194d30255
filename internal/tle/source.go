package tle

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kalkan/srec/data"
)

// FileSource reads the record from a static local file. An empty path selects
// the embedded default record.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Name returns the path, or the embedded record's label.
func (s *FileSource) Name() string {
	if s.path == "" {
		return data.DefaultTLEName
	}
	return s.path
}

// Load reads and parses the record.
func (s *FileSource) Load() (*Dataset, error) {
	raw := data.DefaultTLE
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("reading TLE file: %w", err)
		}
		raw = b
	}

	rec, err := ParseRecord(bytes.NewReader(raw), s.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name(), err)
	}

	return &Dataset{
		Source:   s.Name(),
		LoadedAt: time.Now().UTC(),
		Record:   rec,
	}, nil
}

// Reload loads the record and swaps it into store, holding the store's
// reload lock so concurrent reloads do not interleave.
func (s *FileSource) Reload(store *Store) (*Dataset, error) {
	store.Lock()
	defer store.Unlock()

	ds, err := s.Load()
	if err != nil {
		return nil, err
	}
	store.Set(ds)
	s.logger.Info("TLE record loaded",
		"source", ds.Source,
		"name", ds.Record.Name,
		"norad_id", ds.Record.NORADID,
		"epoch", ds.Record.Epoch.Format(time.RFC3339),
	)
	return ds, nil
}
