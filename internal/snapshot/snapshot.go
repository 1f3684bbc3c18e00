// Package snapshot holds the summarized latest observation shared with the home-screen widget.
// The record lives in memory and in a JSON file that other processes may read.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/observability"
)

const (
	DefaultCity        = "Add a city"
	DefaultDescription = "No data"
	DefaultIcon        = "☀️"
)

// Shared owns the snapshot record and its backing file. Construct one per process and inject it.
type Shared struct {
	mu     sync.Mutex
	path   string
	record models.Snapshot
	logger *zap.Logger
	now    func() time.Time
}

// New creates the backing file's directory and loads the record from path. A missing or
// unreadable file yields the default record; the file is not written until the first Update.
// clock may be nil.
func New(path string, logger *zap.Logger, clock func() time.Time) (*Shared, error) {
	if clock == nil {
		clock = time.Now
	}
	s := &Shared{
		path:   path,
		logger: observability.Component(logger, "snapshot"),
		now:    clock,
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	rec, err := Load(path)
	switch {
	case err == nil:
		s.record = rec
	case errors.Is(err, os.ErrNotExist):
		s.record = s.defaultRecord()
	default:
		s.logger.Warn("snapshot file unreadable, using default", zap.String("path", path), zap.Error(err))
		s.record = s.defaultRecord()
	}
	return s, nil
}

func (s *Shared) defaultRecord() models.Snapshot {
	return models.Snapshot{
		City:        DefaultCity,
		Description: DefaultDescription,
		Icon:        DefaultIcon,
		LastUpdate:  s.now().Format(time.RFC3339),
	}
}

// Update replaces the whole record, stamps LastUpdate and rewrites the file, all under one lock.
// When the write fails the in-memory record is still replaced and the error is returned.
func (s *Shared) Update(city string, temperature float64, description string, humidity, windSpeed float64, icon string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = models.Snapshot{
		City:        city,
		Temperature: temperature,
		Description: description,
		Humidity:    humidity,
		WindSpeed:   windSpeed,
		Icon:        icon,
		LastUpdate:  s.now().Format(time.RFC3339),
	}

	if err := writeFile(s.path, s.record); err != nil {
		observability.SnapshotWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("write snapshot: %w", err)
	}
	observability.SnapshotWritesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("snapshot saved", zap.String("city", city), zap.Float64("temperature", temperature))
	return nil
}

// Read returns a copy of the current record without touching the file.
func (s *Shared) Read() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Path returns the backing file location.
func (s *Shared) Path() string {
	return s.path
}

// Load reads a snapshot file as a cooperating process would.
func Load(path string) (models.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Snapshot{}, err
	}
	var rec models.Snapshot
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec, nil
}

// writeFile writes to a temp file in the same directory and renames it over path,
// so readers never observe a partial document.
func writeFile(path string, rec models.Snapshot) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
