package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/series"
)

type SimulatorConfig struct {
	EpochDelay time.Duration
	MaxWorkers int
	// FailRate is the per-epoch probability that a running session fails.
	FailRate float64
	Seed     int64
}

// Simulator is an in-process training backend. It advances one epoch per
// EpochDelay and reports synthetic learning curves.
type Simulator struct {
	mu         sync.RWMutex
	sessions   map[string]*simSession
	rng        *rand.Rand
	workerSem  chan struct{}
	epochDelay time.Duration
	failRate   float64
	wg         sync.WaitGroup
	closed     chan struct{}
	closeOnce  sync.Once
}

type simSession struct {
	params    LaunchParams
	progress  Progress
	createdAt time.Time
	halt      chan struct{}
	haltOnce  sync.Once
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.EpochDelay <= 0 {
		cfg.EpochDelay = time.Second
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Simulator{
		sessions:   make(map[string]*simSession),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		workerSem:  make(chan struct{}, cfg.MaxWorkers),
		epochDelay: cfg.EpochDelay,
		failRate:   cfg.FailRate,
		closed:     make(chan struct{}),
	}
}

func (s *Simulator) Launch(ctx context.Context, params LaunchParams) (LaunchResult, error) {
	if err := ValidateLaunch(params); err != nil {
		return LaunchResult{}, &LaunchError{Reason: err.Error(), Err: err}
	}
	select {
	case <-s.closed:
		return LaunchResult{}, &LaunchError{Reason: "simulator closed"}
	default:
	}

	id := "training_" + uuid.New().String()
	total := params.Parameters.Epochs
	sess := &simSession{
		params: params,
		progress: Progress{
			SessionID:   id,
			Status:      StatusPending,
			TotalEpochs: total,
			Source:      series.Synthetic,
		},
		createdAt: time.Now().UTC(),
		halt:      make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(id, sess)

	estimate := time.Duration(total) * s.epochDelay
	return LaunchResult{SessionID: id, EstimatedDurationMinutes: estimate.Minutes()}, nil
}

func (s *Simulator) Progress(ctx context.Context, sessionID string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Progress{}, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	return sess.progress, nil
}

// Stop halts a pending or running session. Stopping a finished session
// reports Success=false.
func (s *Simulator) Stop(ctx context.Context, sessionID string) (StopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return StopResult{}, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	if sess.progress.Status.Terminal() {
		return StopResult{Success: false}, nil
	}
	sess.progress.Status = StatusStopped
	sess.haltOnce.Do(func() { close(sess.halt) })
	return StopResult{Success: true}, nil
}

// History returns up to limit sessions, newest first.
func (s *Simulator) History(limit int) []SessionSummary {
	s.mu.RLock()
	type row struct {
		created time.Time
		summary SessionSummary
	}
	rows := make([]row, 0, len(s.sessions))
	for id, sess := range s.sessions {
		rows = append(rows, row{
			created: sess.createdAt,
			summary: SessionSummary{
				SessionID:    id,
				Params:       sess.params,
				Status:       sess.progress.Status,
				CurrentEpoch: sess.progress.CurrentEpoch,
				TotalEpochs:  sess.progress.TotalEpochs,
				Progress:     sess.progress.Percent(),
			},
		})
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].created.After(rows[j].created) })
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	out := make([]SessionSummary, 0, limit)
	for _, r := range rows[:limit] {
		out = append(out, r.summary)
	}
	return out
}

// Close halts every session and waits for the workers to exit.
func (s *Simulator) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.wg.Wait()
}

func (s *Simulator) run(id string, sess *simSession) {
	defer s.wg.Done()

	select {
	case s.workerSem <- struct{}{}:
	case <-sess.halt:
		return
	case <-s.closed:
		s.finish(sess, StatusStopped, "")
		return
	}
	defer func() { <-s.workerSem }()

	if !s.transition(sess, StatusRunning) {
		return
	}
	logger.WithSession(id).Debug("simulated training started")

	ticker := time.NewTicker(s.epochDelay)
	defer ticker.Stop()
	for {
		select {
		case <-sess.halt:
			return
		case <-s.closed:
			s.finish(sess, StatusStopped, "")
			return
		case <-ticker.C:
			if done := s.advance(sess); done {
				logger.WithSession(id).WithField("status", s.statusOf(sess)).Debug("simulated training finished")
				return
			}
		}
	}
}

// advance moves a running session forward one epoch and reports whether it
// reached a terminal state.
func (s *Simulator) advance(sess *simSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &sess.progress
	if p.Status != StatusRunning {
		return true
	}
	if s.failRate > 0 && s.rng.Float64() < s.failRate {
		p.Status = StatusFailed
		p.Error = "simulated training diverged"
		return true
	}

	p.CurrentEpoch++
	k := 3.0 / float64(p.TotalEpochs)
	decay := math.Exp(-k * float64(p.CurrentEpoch))
	noise := (s.rng.Float64() - 0.5) * 0.02
	p.TrainingAccuracy = clamp01(0.5 + 0.45*(1-decay) + noise)
	p.ValidationAccuracy = clamp01(p.TrainingAccuracy*0.95 - math.Abs(noise))
	p.TrainingLoss = 1.2*decay + 0.05

	if p.CurrentEpoch >= p.TotalEpochs {
		p.Status = StatusCompleted
		return true
	}
	return false
}

func (s *Simulator) transition(sess *simSession, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.progress.Status.Terminal() {
		return false
	}
	sess.progress.Status = status
	return true
}

func (s *Simulator) finish(sess *simSession, status Status, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.progress.Status.Terminal() {
		return
	}
	sess.progress.Status = status
	sess.progress.Error = reason
}

func (s *Simulator) statusOf(sess *simSession) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sess.progress.Status
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
