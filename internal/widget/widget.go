// Package widget mirrors the shared snapshot on a schedule. It stands in for the OS home-screen
// widget refresh: each tick reads the latest record and logs it.
package widget

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/lifecycle"
	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/observability"
)

// DefaultInterval is used when Mirror is given a non-positive interval.
const DefaultInterval = 30 * time.Second

// SnapshotReader is satisfied by *snapshot.Shared.
type SnapshotReader interface {
	Read() models.Snapshot
}

// Mirror runs Tick every interval on a gocron scheduler in singleton mode, so a slow tick
// is never overlapped by the next one.
type Mirror struct {
	shared   SnapshotReader
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	ticks     atomic.Int64
}

// New returns a stopped Mirror.
func New(shared SnapshotReader, interval time.Duration, logger *zap.Logger) *Mirror {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Mirror{
		shared:   shared,
		interval: interval,
		logger:   observability.Component(logger, "widget_mirror"),
	}
}

// Start schedules the mirror job. The first tick runs immediately. Calling Start on a running
// Mirror logs a warning and does nothing.
func (m *Mirror) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scheduler != nil {
		m.logger.Warn("widget mirror already running")
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(m.interval).Do(m.Tick); err != nil {
		return err
	}
	s.StartAsync()
	m.scheduler = s

	m.logger.Info("widget mirror started", zap.Duration("interval", m.interval))
	return nil
}

// Stop prevents further ticks and waits up to timeout for a running tick to finish.
// On timeout it returns lifecycle.ErrStopTimeout and leaves the tick to finish on its own.
func (m *Mirror) Stop(timeout time.Duration) error {
	m.mu.Lock()
	s := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Stop()
	}()
	if err := lifecycle.WaitTimeout(done, timeout); err != nil {
		m.logger.Warn("widget mirror did not stop in time", zap.Duration("timeout", timeout))
		return err
	}
	m.logger.Info("widget mirror stopped", zap.Int64("ticks", m.Ticks()))
	return nil
}

// Running reports whether the scheduler is active.
func (m *Mirror) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduler != nil
}

// Tick mirrors the current snapshot once.
func (m *Mirror) Tick() {
	n := m.ticks.Add(1)
	observability.WidgetMirrorTicksTotal.Inc()

	snap := m.shared.Read()
	m.logger.Info("widget refresh",
		zap.Int64("tick", n),
		zap.String("city", snap.City),
		zap.String("icon", snap.Icon),
		zap.Float64("temperature", snap.Temperature),
		zap.String("description", snap.Description),
		zap.Float64("humidity", snap.Humidity),
		zap.Float64("wind_speed", snap.WindSpeed),
		zap.String("last_update", snap.LastUpdate))
}

// Ticks returns the number of ticks run since construction.
func (m *Mirror) Ticks() int64 {
	return m.ticks.Load()
}
