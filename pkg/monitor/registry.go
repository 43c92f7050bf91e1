package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/common/models"
	"github.com/synaptica-ai/trainwatch/pkg/observability/metrics"
	"github.com/synaptica-ai/trainwatch/pkg/series"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

const (
	eventSource    = "trainwatch"
	publishTimeout = 5 * time.Second
	recentSessions = 50
)

var ErrRegistryClosed = errors.New("session registry closed")

// EventPublisher carries lifecycle events to other services.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type RegistryConfig struct {
	Poller         PollerConfig
	SeriesCapacity int
	Metrics        []string
}

// Summary is the externally visible view of a session.
type Summary struct {
	SessionID    string                    `json:"sessionId"`
	State        State                     `json:"state"`
	Live         bool                      `json:"live"`
	Status       training.Status           `json:"status,omitempty"`
	CurrentEpoch int                       `json:"currentEpoch"`
	TotalEpochs  int                       `json:"totalEpochs"`
	Percent      float64                   `json:"percent"`
	Source       series.DataSource         `json:"source"`
	Error        string                    `json:"error,omitempty"`
	StartedAt    time.Time                 `json:"startedAt"`
	FinishedAt   *time.Time                `json:"finishedAt,omitempty"`
	Series       map[string][]series.Point `json:"series,omitempty"`
}

type entry struct {
	poller    *Poller
	agg       *Aggregator
	sink      ChartSink
	startedAt time.Time
}

func (e *entry) summary(withSeries bool) Summary {
	progress := e.poller.Progress()
	s := Summary{
		SessionID:    e.poller.SessionID(),
		State:        e.poller.State(),
		Status:       progress.Status,
		CurrentEpoch: progress.CurrentEpoch,
		TotalEpochs:  progress.TotalEpochs,
		Percent:      progress.Percent(),
		Source:       progress.Source,
		StartedAt:    e.startedAt,
	}
	if err := e.poller.Err(); err != nil {
		s.Error = err.Error()
	}
	if withSeries {
		s.Series = e.agg.Snapshots()
	}
	return s
}

// Registry owns every monitored session, keyed by session id. Each entry
// holds the poller, the aggregator and the chart binding, and Teardown
// releases all three exactly once.
type Registry struct {
	backend  training.Backend
	launcher *training.Launcher
	sinks    SinkFactory
	events   EventPublisher
	cfg      RegistryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	recent  *series.Series[Summary]
	closed  bool
}

// NewRegistry wires sessions to backend. A nil sinks factory logs charts;
// a nil events publisher disables lifecycle events.
func NewRegistry(backend training.Backend, sinks SinkFactory, events EventPublisher, cfg RegistryConfig) *Registry {
	if sinks == nil {
		sinks = func(sessionID string) ChartSink { return NewLogSink(sessionID) }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		backend:  backend,
		launcher: training.NewLauncher(backend),
		sinks:    sinks,
		events:   events,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
		recent:   series.New[Summary](recentSessions),
	}
}

// Launch submits a job and starts monitoring the session it creates.
func (r *Registry) Launch(ctx context.Context, params training.LaunchParams) (training.LaunchResult, error) {
	result, err := r.launcher.Launch(ctx, params)
	if err != nil {
		if training.IsValidationError(err) {
			metrics.ObserveLaunch("invalid")
		} else {
			metrics.ObserveLaunch("failed")
		}
		return training.LaunchResult{}, err
	}
	metrics.ObserveLaunch("launched")

	r.publish(models.EventSessionLaunched, map[string]interface{}{
		"sessionId":                result.SessionID,
		"targets":                  params.Targets,
		"type":                     params.Type,
		"topic":                    params.Topic,
		"parameters":               params.Parameters,
		"estimatedDurationMinutes": result.EstimatedDurationMinutes,
	})

	if _, err := r.Monitor(result.SessionID); err != nil {
		if !errors.Is(err, ErrAlreadyMonitored) {
			r.abandon(ctx, result.SessionID, err)
		}
		return result, err
	}
	return result, nil
}

// abandon stops a launched session that could not be monitored so it does
// not keep running unobserved on the backend.
func (r *Registry) abandon(ctx context.Context, sessionID string, cause error) {
	log := logger.WithSession(sessionID).WithField("cause", cause.Error())

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := r.backend.Stop(stopCtx, sessionID); err != nil {
		log.WithError(err).Warn("Launched session left running on backend")
		return
	}
	log.Warn("Stopped launched session that could not be monitored")
}

// Monitor starts polling an already launched session.
func (r *Registry) Monitor(sessionID string) (*Poller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.entries[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMonitored, sessionID)
	}

	agg := NewAggregator(sessionID, r.cfg.SeriesCapacity, r.cfg.Metrics)
	sink := r.sinks(sessionID)
	poller := NewPoller(sessionID, r.backend, agg, sink, r.cfg.Poller, PollerHooks{
		OnApply: func(progress training.Progress) {
			r.publish(models.EventSessionProgress, progressData(sessionID, progress))
		},
		OnTerminal: func(state State, progress training.Progress, err error) {
			data := progressData(sessionID, progress)
			data["state"] = state.String()
			if err != nil {
				data["error"] = err.Error()
			}
			r.publish(models.EventSessionTerminal, data)
			r.Teardown(sessionID)
		},
	})

	if err := poller.Start(r.ctx); err != nil {
		sink.Close()
		return nil, err
	}
	r.entries[sessionID] = &entry{poller: poller, agg: agg, sink: sink, startedAt: time.Now()}
	metrics.SessionStarted()
	return poller, nil
}

// Stop asks the backend to stop the session and then tears it down. When
// the backend call fails the session keeps being monitored.
func (r *Registry) Stop(ctx context.Context, sessionID string) (training.StopResult, error) {
	r.mu.Lock()
	_, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok {
		return training.StopResult{}, fmt.Errorf("%w: %s", ErrNotMonitored, sessionID)
	}

	result, err := r.backend.Stop(ctx, sessionID)
	if err != nil {
		return result, fmt.Errorf("failed to stop session %s: %w", sessionID, err)
	}
	if !result.Success {
		logger.WithSession(sessionID).Warn("Backend reported session already finished")
	}

	r.Teardown(sessionID)
	return result, nil
}

// Teardown cancels polling, releases the aggregator and detaches the chart.
// Calls after the first for the same session are no-ops; it reports
// whether this call did the work.
func (r *Registry) Teardown(sessionID string) bool {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.poller.Stop()
	final := e.summary(false)
	now := time.Now()
	final.FinishedAt = &now

	e.agg.Release()
	if err := e.sink.Close(); err != nil {
		logger.WithSession(sessionID).WithError(err).Warn("Failed to detach chart")
	}

	r.mu.Lock()
	r.recent.Append(final)
	r.mu.Unlock()

	metrics.SessionTornDown(final.State.String())
	r.publish(models.EventSessionTeardown, map[string]interface{}{
		"sessionId": sessionID,
		"state":     final.State.String(),
	})

	logger.WithSession(sessionID).WithFields(logrus.Fields{
		"state": final.State.String(),
		"epoch": final.CurrentEpoch,
	}).Info("Session torn down")
	return true
}

// Get returns a live session with its series, or the final summary of a
// recently torn down one.
func (r *Registry) Get(sessionID string) (Summary, bool) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	var recent []Summary
	if !ok {
		recent = r.recent.Snapshot()
	}
	r.mu.Unlock()

	if ok {
		s := e.summary(true)
		s.Live = true
		return s, true
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].SessionID == sessionID {
			return recent[i], true
		}
	}
	return Summary{}, false
}

// Snapshot returns one metric's series of a live session.
func (r *Registry) Snapshot(sessionID, metric string) ([]series.Point, error) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMonitored, sessionID)
	}

	points, ok := e.agg.Snapshot(metric)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
	return points, nil
}

// List returns the live sessions, oldest first.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		s := e.summary(false)
		s.Live = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close tears down every session and refuses new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Teardown(id)
	}
	r.cancel()
}

func (r *Registry) publish(eventType string, data map[string]interface{}) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"session_id": data["sessionId"],
		}).Warn("Failed to publish session event")
	}
}

func progressData(sessionID string, p training.Progress) map[string]interface{} {
	return map[string]interface{}{
		"sessionId":          sessionID,
		"status":             string(p.Status),
		"currentEpoch":       p.CurrentEpoch,
		"totalEpochs":        p.TotalEpochs,
		"trainingAccuracy":   p.TrainingAccuracy,
		"validationAccuracy": p.ValidationAccuracy,
		"trainingLoss":       p.TrainingLoss,
		"source":             p.Source.String(),
	}
}
