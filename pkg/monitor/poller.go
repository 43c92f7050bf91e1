package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/trainwatch/pkg/common/httpclient"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/observability/metrics"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxBackoff   = 30 * time.Second
)

// Ticker delivers poll ticks. *time.Ticker is wrapped by NewTimeTicker;
// tests drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// ProgressFetcher is the read side of the training backend.
type ProgressFetcher interface {
	Progress(ctx context.Context, sessionID string) (training.Progress, error)
}

type PollerConfig struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	MaxBackoff     time.Duration
	// MaxTransientFailures fails the session after that many consecutive
	// transport errors. Zero retries forever.
	MaxTransientFailures int
	NewTicker            func(time.Duration) Ticker
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = c.Interval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = c.Interval
	}
	if c.MaxTransientFailures < 0 {
		c.MaxTransientFailures = 0
	}
	if c.NewTicker == nil {
		c.NewTicker = NewTimeTicker
	}
	return c
}

// PollerHooks run outside the poller lock on the goroutine that applied
// the response.
type PollerHooks struct {
	OnApply    func(training.Progress)
	OnTerminal func(State, training.Progress, error)
}

// Poller polls one session's progress on a fixed cadence and feeds the
// aggregator until the session reaches a terminal state or is stopped.
type Poller struct {
	sessionID string
	fetcher   ProgressFetcher
	agg       *Aggregator
	sink      ChartSink
	cfg       PollerConfig
	hooks     PollerHooks
	log       *logrus.Entry

	mu         sync.Mutex
	state      State
	progress   training.Progress
	lastEpoch  int
	applied    bool
	err        error
	failures   int
	skip       int
	dispatched int
	cancel     context.CancelFunc
	done       chan struct{}
	inflight   sync.WaitGroup
}

func NewPoller(sessionID string, fetcher ProgressFetcher, agg *Aggregator, sink ChartSink, cfg PollerConfig, hooks PollerHooks) *Poller {
	return &Poller{
		sessionID: sessionID,
		fetcher:   fetcher,
		agg:       agg,
		sink:      sink,
		cfg:       cfg.withDefaults(),
		hooks:     hooks,
		log:       logger.WithSession(sessionID),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// Start moves Idle to Polling and schedules the recurring tick. The loop
// lives until the poller leaves Polling or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrPollerNotIdle, p.state)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StatePolling
	go p.run(loopCtx, p.cfg.NewTicker(p.cfg.Interval))

	p.log.WithField("interval", p.cfg.Interval.String()).Info("Polling started")
	return nil
}

// Stop moves a non-terminal poller to Stopped and cancels the tick loop.
// Requests already in flight are discarded when they land. It reports
// whether this call performed the transition.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Terminal() {
		return false
	}
	p.finishLocked(StateStopped, nil)
	p.log.Info("Polling stopped")
	return true
}

func (p *Poller) run(ctx context.Context, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case <-ticker.C():
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	if p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	if p.skip > 0 {
		p.skip--
		p.mu.Unlock()
		return
	}
	p.dispatched++
	p.inflight.Add(1)
	p.mu.Unlock()

	go p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) {
	defer p.inflight.Done()

	// Stop must not abort a dispatched request, only its effect.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestTimeout)
	defer cancel()

	started := time.Now()
	progress, err := p.fetcher.Progress(reqCtx, p.sessionID)
	p.handle(Classify(progress, err), time.Since(started))
}

func (p *Poller) handle(outcome Outcome, took time.Duration) {
	p.mu.Lock()

	if p.state != StatePolling {
		p.mu.Unlock()
		metrics.ObserveStale("stopped")
		p.log.WithField("outcome", outcome.Kind.String()).Debug("Discarding response for finished session")
		return
	}
	metrics.ObservePoll(outcome.Kind.String(), took)

	applied := false
	switch outcome.Kind {
	case OutcomeTransient:
		p.transientFailureLocked(outcome.Err)

	case OutcomeMalformed:
		p.finishLocked(StateFailed, outcome.Err)

	case OutcomePending, OutcomeRunning, OutcomeCompleted, OutcomeStopped, OutcomeFailed:
		// Backend terminal states are one-way, so a terminal report is
		// honoured even when its counters went backwards.
		regressed := p.applied && outcome.Progress.CurrentEpoch < p.lastEpoch
		if regressed && !outcome.Kind.terminal() {
			p.mu.Unlock()
			metrics.ObserveStale("epoch")
			p.log.WithFields(logrus.Fields{
				"epoch":      outcome.Progress.CurrentEpoch,
				"last_epoch": p.lastEpoch,
			}).Debug("Dropping out-of-order response")
			return
		}
		p.failures, p.skip = 0, 0
		p.progress = outcome.Progress

		switch outcome.Kind {
		case OutcomeRunning:
			applied = p.applyLocked(outcome.Progress)
		case OutcomeCompleted:
			if !regressed {
				applied = p.applyLocked(outcome.Progress)
			}
			p.finishLocked(StateCompleted, nil)
		case OutcomeStopped:
			if !regressed {
				applied = p.applyLocked(outcome.Progress)
			}
			p.finishLocked(StateStopped, nil)
		case OutcomeFailed:
			p.finishLocked(StateFailed, outcome.Err)
		}
	}

	state, progress, err := p.state, p.progress, p.err
	p.mu.Unlock()

	if applied && p.hooks.OnApply != nil {
		p.hooks.OnApply(progress)
	}
	if state.Terminal() {
		p.logTerminal(state, err)
		if p.hooks.OnTerminal != nil {
			p.hooks.OnTerminal(state, progress, err)
		}
	}
}

// applyLocked feeds progress to the aggregator and forwards new points to
// the sink. It reports whether anything was appended.
func (p *Poller) applyLocked(progress training.Progress) bool {
	p.lastEpoch = progress.CurrentEpoch
	p.applied = true

	samples := p.agg.Apply(progress)
	if len(samples) == 0 {
		return false
	}
	for _, s := range samples {
		p.sink.Append(s.Metric, s.Point)
	}
	p.sink.Render()
	return true
}

func (p *Poller) transientFailureLocked(err error) {
	p.failures++
	metrics.ObserveTransientFailure()

	if p.cfg.MaxTransientFailures > 0 && p.failures >= p.cfg.MaxTransientFailures {
		p.finishLocked(StateFailed, fmt.Errorf("%w: %d consecutive failures: %v", ErrBackendUnreachable, p.failures, err))
		return
	}

	p.skip = skipTicks(p.failures, p.cfg.Interval, p.cfg.MaxBackoff)
	p.log.WithError(err).WithFields(logrus.Fields{
		"failures":      p.failures,
		"skipped_ticks": p.skip,
	}).Warn("Progress request failed, will retry")
}

// finishLocked enters a terminal state. Callers hold p.mu and have checked
// the poller is not already terminal.
func (p *Poller) finishLocked(state State, err error) {
	p.state = state
	p.err = err
	if p.cancel != nil {
		p.cancel()
	}
	close(p.done)
}

func (p *Poller) logTerminal(state State, err error) {
	entry := p.log.WithField("state", state.String())
	if err != nil {
		entry.WithError(err).Error("Session finished with error")
		return
	}
	entry.Info("Session finished")
}

// skipTicks returns how many ticks to let pass after the given number of
// consecutive failures. The wait starts at one interval and doubles up to
// maxBackoff.
func skipTicks(failures int, interval, maxBackoff time.Duration) int {
	wait := interval
	for i := 1; i < failures && wait < maxBackoff; i++ {
		wait = httpclient.NextBackoff(wait, maxBackoff)
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return int(wait/interval) - 1
}

func (p *Poller) SessionID() string { return p.sessionID }

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err is the error that moved the poller to Failed, if any.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Progress returns the last accepted status report.
func (p *Poller) Progress() training.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Dispatched counts the requests sent so far.
func (p *Poller) Dispatched() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatched
}

// Done is closed once the poller reaches a terminal state.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until every dispatched request has been handled.
func (p *Poller) Wait() {
	p.inflight.Wait()
}
