package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

const waitFor = 2 * time.Second

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

// tick hands one tick to the poll loop. It reports false when nothing
// received it, which happens once the loop has exited.
func (t *manualTicker) tick() bool {
	select {
	case t.ch <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

// tickers hands out a fresh manualTicker per poller.
type tickers struct {
	made chan *manualTicker
}

func newTickers() *tickers {
	return &tickers{made: make(chan *manualTicker, 16)}
}

func (ts *tickers) factory(time.Duration) Ticker {
	t := newManualTicker()
	ts.made <- t
	return t
}

func (ts *tickers) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-ts.made:
		return tk
	case <-time.After(waitFor):
		t.Fatal("no ticker created")
		return nil
	}
}

type reply struct {
	progress training.Progress
	err      error
}

type pendingCall struct {
	sessionID string
	reply     chan reply
}

func (c *pendingCall) respond(p training.Progress) {
	c.reply <- reply{progress: p}
}

func (c *pendingCall) fail(err error) {
	c.reply <- reply{err: err}
}

// scriptedFetcher parks every Progress call until the test answers it, so
// responses can be delivered in any order.
type scriptedFetcher struct {
	calls chan *pendingCall
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan *pendingCall, 64)}
}

func (f *scriptedFetcher) Progress(ctx context.Context, sessionID string) (training.Progress, error) {
	call := &pendingCall{sessionID: sessionID, reply: make(chan reply, 1)}
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.progress, r.err
	case <-ctx.Done():
		return training.Progress{}, ctx.Err()
	}
}

func (f *scriptedFetcher) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(waitFor):
		t.Fatal("no progress request dispatched")
		return nil
	}
}

func (f *scriptedFetcher) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected progress request for %s", c.sessionID)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeBackend is a training.Backend whose Progress side is scripted.
type fakeBackend struct {
	*scriptedFetcher

	mu         sync.Mutex
	launches   int
	launchErr  error
	nextID     int
	stops      []string
	stopResult training.StopResult
	stopErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		scriptedFetcher: newScriptedFetcher(),
		stopResult:      training.StopResult{Success: true},
	}
}

func (b *fakeBackend) Launch(ctx context.Context, params training.LaunchParams) (training.LaunchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launches++
	if b.launchErr != nil {
		return training.LaunchResult{}, b.launchErr
	}
	b.nextID++
	return training.LaunchResult{SessionID: fmt.Sprintf("session-%d", b.nextID), EstimatedDurationMinutes: 10}, nil
}

func (b *fakeBackend) Stop(ctx context.Context, sessionID string) (training.StopResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops = append(b.stops, sessionID)
	return b.stopResult, b.stopErr
}

func (b *fakeBackend) stopCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stops...)
}

type publishedEvent struct {
	Type string
	Data map[string]interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Data: data})
	return p.err
}

func (p *fakePublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

var errUnreachable = errors.New("connection refused")

func running(epoch, total int) training.Progress {
	return training.Progress{
		Status:             training.StatusRunning,
		CurrentEpoch:       epoch,
		TotalEpochs:        total,
		TrainingAccuracy:   0.5 + float64(epoch)/100,
		ValidationAccuracy: 0.4 + float64(epoch)/100,
		TrainingLoss:       1 / float64(epoch+1),
	}
}

func withStatus(p training.Progress, status training.Status) training.Progress {
	p.Status = status
	return p
}

func labels(t *testing.T, agg *Aggregator, metric string) []string {
	t.Helper()
	points, ok := agg.Snapshot(metric)
	require.True(t, ok)
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Label
	}
	return out
}
