package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/lifecycle"
	"github.com/kjstillabower/weather-display/internal/observability"
)

// State is the pull-to-refresh gesture state.
type State int

const (
	Idle State = iota
	Dragging
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Poster hands a function to the UI thread. Satisfied by *ui.Dispatcher.
type Poster interface {
	Post(fn func()) bool
}

// PullConfig holds gesture thresholds, in the UI's logical pixels.
type PullConfig struct {
	Threshold    float64       // drag distance that triggers a refresh
	IndicatorMax float64       // indicator height while refreshing
	Delay        time.Duration // pause before the refresh runs
}

// Status is the gesture state after a Begin, Move or End.
type Status struct {
	State     string  `json:"state"`
	Indicator float64 `json:"indicator"`
	Triggered bool    `json:"triggered"`
}

// Puller is the pull-to-refresh state machine. All panels share one Puller, so a refresh
// started from any panel blocks new ones everywhere until it completes.
type Puller struct {
	cfg      PullConfig
	refresh  Func
	poster   Poster
	onFinish func(err error)
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	startY    float64
	currentY  float64
	indicator float64
	wg        sync.WaitGroup
}

// NewPuller returns an idle Puller. onFinish, when set, runs on the UI thread after each
// refresh together with the indicator reset.
func NewPuller(cfg PullConfig, refresh Func, poster Poster, onFinish func(err error), logger *zap.Logger) *Puller {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100
	}
	if cfg.IndicatorMax <= 0 {
		cfg.IndicatorMax = 60
	}
	return &Puller{
		cfg:      cfg,
		refresh:  refresh,
		poster:   poster,
		onFinish: onFinish,
		logger:   observability.Component(logger, "pull_refresh"),
	}
}

// Begin starts a drag at y. Ignored while a refresh is running.
func (p *Puller) Begin(y float64) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Refreshing {
		observability.PullRefreshTotal.WithLabelValues("ignored").Inc()
		return p.statusLocked(false)
	}
	p.state = Dragging
	p.startY = y
	p.currentY = y
	p.indicator = 0
	return p.statusLocked(false)
}

// Move tracks the drag to y. The indicator follows half the drag distance, capped at
// IndicatorMax, while the distance is positive and within the threshold.
func (p *Puller) Move(y float64) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Dragging {
		return p.statusLocked(false)
	}
	p.currentY = y
	d := p.currentY - p.startY
	if d > 0 && d <= p.cfg.Threshold {
		p.indicator = min(d/2, p.cfg.IndicatorMax)
	}
	return p.statusLocked(false)
}

// End finishes the drag. A distance of at least Threshold starts a refresh; anything shorter
// resets the indicator.
func (p *Puller) End() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Dragging {
		return p.statusLocked(false)
	}
	if p.currentY-p.startY >= p.cfg.Threshold {
		p.triggerLocked()
		return p.statusLocked(true)
	}
	observability.PullRefreshTotal.WithLabelValues("cancelled").Inc()
	p.state = Idle
	p.indicator = 0
	return p.statusLocked(false)
}

// Trigger starts a refresh without a gesture. It reports false when one is already running.
func (p *Puller) Trigger() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Refreshing {
		observability.PullRefreshTotal.WithLabelValues("ignored").Inc()
		return false
	}
	p.triggerLocked()
	return true
}

func (p *Puller) triggerLocked() {
	observability.PullRefreshTotal.WithLabelValues("triggered").Inc()
	p.state = Refreshing
	p.indicator = p.cfg.IndicatorMax
	p.wg.Add(1)
	go p.work()
}

// work runs off the UI thread. The refresh is not tied to any request and runs to completion.
func (p *Puller) work() {
	defer p.wg.Done()

	if p.cfg.Delay > 0 {
		time.Sleep(p.cfg.Delay)
	}
	err := p.refresh(context.Background())
	if err != nil {
		observability.PullRefreshTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("pull refresh failed", zap.Error(err))
	} else {
		observability.PullRefreshTotal.WithLabelValues("completed").Inc()
	}

	finish := func() {
		p.reset()
		if p.onFinish != nil {
			p.onFinish(err)
		}
	}
	if p.poster == nil || !p.poster.Post(finish) {
		p.reset()
	}
}

func (p *Puller) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Idle
	p.indicator = 0
}

// Status returns the current gesture state.
func (p *Puller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked(false)
}

// Refreshing reports whether a refresh is running.
func (p *Puller) Refreshing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Refreshing
}

// Wait blocks until every started refresh has handed off its completion.
func (p *Puller) Wait() {
	p.wg.Wait()
}

// Stop waits up to timeout for running refreshes, returning lifecycle.ErrStopTimeout when one
// is still going. The refresh is not cancelled.
func (p *Puller) Stop(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	return lifecycle.WaitTimeout(done, timeout)
}

func (p *Puller) statusLocked(triggered bool) Status {
	return Status{State: p.state.String(), Indicator: p.indicator, Triggered: triggered}
}
