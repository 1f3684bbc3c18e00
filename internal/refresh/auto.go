// Package refresh drives forecast reloads: a timer loop and a pull-to-refresh gesture machine.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/lifecycle"
	"github.com/kjstillabower/weather-display/internal/observability"
)

// Func reloads the current location and hands the result to the UI thread.
type Func func(ctx context.Context) error

// AutoRefresher calls a Func every interval until stopped.
type AutoRefresher struct {
	interval time.Duration
	refresh  Func
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAutoRefresher(interval time.Duration, refresh Func, logger *zap.Logger) *AutoRefresher {
	return &AutoRefresher{
		interval: interval,
		refresh:  refresh,
		logger:   observability.Component(logger, "auto_refresh"),
	}
}

// Start launches the loop. The first run happens one interval after Start. A second Start
// while running is ignored.
func (a *AutoRefresher) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		a.logger.Warn("auto refresh already running")
		return
	}
	if a.interval <= 0 {
		a.logger.Info("auto refresh disabled")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(loopCtx, a.done)
	a.logger.Info("auto refresh started", zap.Duration("interval", a.interval))
}

func (a *AutoRefresher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

// runOnce detaches the refresh from the loop context so Stop never aborts a fetch in progress.
func (a *AutoRefresher) runOnce(ctx context.Context) {
	if err := a.refresh(context.WithoutCancel(ctx)); err != nil {
		observability.AutoRefreshRunsTotal.WithLabelValues("error").Inc()
		a.logger.Warn("auto refresh failed", zap.Error(err))
		return
	}
	observability.AutoRefreshRunsTotal.WithLabelValues("ok").Inc()
	a.logger.Debug("auto refresh complete")
}

// Stop prevents further runs and waits up to timeout for a run in progress to finish. It returns
// lifecycle.ErrStopTimeout when the run outlives the timeout; the run is left to complete.
func (a *AutoRefresher) Stop(timeout time.Duration) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	if err := lifecycle.WaitTimeout(done, timeout); err != nil {
		a.logger.Warn("auto refresh did not stop in time", zap.Duration("timeout", timeout))
		return err
	}
	a.logger.Info("auto refresh stopped")
	return nil
}
