package monitor

import (
	"fmt"
	"sync"

	"github.com/synaptica-ai/trainwatch/pkg/series"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

// Sample is one point destined for a named series.
type Sample struct {
	Metric string
	Point  series.Point
}

// Aggregator keeps one bounded series per tracked metric for a session.
// Apply is idempotent per epoch.
type Aggregator struct {
	sessionID string
	metrics   []string

	mu        sync.RWMutex
	series    map[string]*series.Series[series.Point]
	lastEpoch int
	applied   bool
	released  bool
}

func NewAggregator(sessionID string, capacity int, metrics []string) *Aggregator {
	if capacity <= 0 {
		capacity = series.DefaultCapacity
	}
	if len(metrics) == 0 {
		metrics = training.DefaultMetrics
	}

	a := &Aggregator{
		sessionID: sessionID,
		metrics:   make([]string, 0, len(metrics)),
		series:    make(map[string]*series.Series[series.Point], len(metrics)),
	}
	for _, name := range metrics {
		if _, dup := a.series[name]; dup {
			continue
		}
		a.metrics = append(a.metrics, name)
		a.series[name] = series.New[series.Point](capacity)
	}
	return a
}

// EpochLabel is the x-axis label used for an epoch's points.
func EpochLabel(epoch int) string {
	return fmt.Sprintf("Epoch %d", epoch)
}

// Apply appends the tracked metrics of progress and returns the samples it
// added. A repeated or older epoch, a foreign session id or a released
// aggregator yields no samples.
func (a *Aggregator) Apply(progress training.Progress) []Sample {
	if progress.SessionID != "" && progress.SessionID != a.sessionID {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released {
		return nil
	}
	if a.applied && progress.CurrentEpoch <= a.lastEpoch {
		return nil
	}

	label := EpochLabel(progress.CurrentEpoch)
	samples := make([]Sample, 0, len(a.metrics))
	for _, name := range a.metrics {
		value, ok := progress.Metric(name)
		if !ok {
			continue
		}
		point := series.Point{Label: label, Value: value, Source: progress.Source}
		a.series[name].Append(point)
		samples = append(samples, Sample{Metric: name, Point: point})
	}
	a.lastEpoch = progress.CurrentEpoch
	a.applied = true
	return samples
}

// Snapshot returns a copy of one metric's series, oldest first.
func (a *Aggregator) Snapshot(metric string) ([]series.Point, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[metric]
	if !ok || a.released {
		return nil, false
	}
	return s.Snapshot(), true
}

// Snapshots copies every tracked series.
func (a *Aggregator) Snapshots() map[string][]series.Point {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string][]series.Point, len(a.series))
	if a.released {
		return out
	}
	for name, s := range a.series {
		out[name] = s.Snapshot()
	}
	return out
}

func (a *Aggregator) Metrics() []string {
	out := make([]string, len(a.metrics))
	copy(out, a.metrics)
	return out
}

// LastEpoch returns the last applied epoch and whether any was applied.
func (a *Aggregator) LastEpoch() (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastEpoch, a.applied
}

// Release drops all buffers. Later Apply calls are ignored.
func (a *Aggregator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.series {
		s.Reset()
	}
	a.released = true
}
