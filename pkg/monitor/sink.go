package monitor

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/series"
)

// ChartSink receives points for named series and is asked to redraw after
// each applied epoch. Close detaches the binding; a closed sink ignores
// further calls.
type ChartSink interface {
	Append(seriesName string, point series.Point)
	Render()
	Close() error
}

// SinkFactory binds a new ChartSink to a session.
type SinkFactory func(sessionID string) ChartSink

// LogSink writes each rendered epoch as one structured log entry.
type LogSink struct {
	entry *logrus.Entry

	mu      sync.Mutex
	pending logrus.Fields
	closed  bool
}

func NewLogSink(sessionID string) *LogSink {
	return &LogSink{entry: logger.WithSession(sessionID), pending: logrus.Fields{}}
}

func (s *LogSink) Append(seriesName string, point series.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending["label"] = point.Label
	s.pending["source"] = point.Source.String()
	s.pending[seriesName] = point.Value
}

func (s *LogSink) Render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.pending) == 0 {
		return
	}
	s.entry.WithFields(s.pending).Info("Training progress")
	s.pending = logrus.Fields{}
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	return nil
}

// RecordingSink keeps every appended point in memory.
type RecordingSink struct {
	mu      sync.Mutex
	points  map[string][]series.Point
	renders int
	closes  int
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{points: make(map[string][]series.Point)}
}

func (s *RecordingSink) Append(seriesName string, point series.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return
	}
	s.points[seriesName] = append(s.points[seriesName], point)
}

func (s *RecordingSink) Render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return
	}
	s.renders++
}

func (s *RecordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Points returns a copy of what was appended to seriesName.
func (s *RecordingSink) Points(seriesName string) []series.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]series.Point, len(s.points[seriesName]))
	copy(out, s.points[seriesName])
	return out
}

func (s *RecordingSink) Renders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

// Closes counts Close calls, so double detaches are visible.
func (s *RecordingSink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
