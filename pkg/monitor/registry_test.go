package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/trainwatch/pkg/common/models"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

type registryHarness struct {
	registry *Registry
	backend  *fakeBackend
	events   *fakePublisher
	tickers  *tickers
	sinks    map[string]*RecordingSink
}

func newRegistryHarness(t *testing.T) *registryHarness {
	t.Helper()

	h := &registryHarness{
		backend: newFakeBackend(),
		events:  &fakePublisher{},
		tickers: newTickers(),
		sinks:   make(map[string]*RecordingSink),
	}
	factory := func(sessionID string) ChartSink {
		sink := NewRecordingSink()
		h.sinks[sessionID] = sink
		return sink
	}
	h.registry = NewRegistry(h.backend, factory, h.events, RegistryConfig{
		Poller:         PollerConfig{Interval: time.Second, NewTicker: h.tickers.factory},
		SeriesCapacity: 20,
	})
	t.Cleanup(h.registry.Close)
	return h
}

func launchParams() training.LaunchParams {
	return training.LaunchParams{
		Targets:    []string{"agent-1"},
		Parameters: training.Parameters{Epochs: 10, LearningRate: 0.001},
	}
}

func TestRegistryLaunchStartsMonitoring(t *testing.T) {
	h := newRegistryHarness(t)

	result, err := h.registry.Launch(context.Background(), launchParams())
	require.NoError(t, err)
	assert.Equal(t, "session-1", result.SessionID)
	h.tickers.next(t)

	sessions := h.registry.List()
	require.Len(t, sessions, 1)
	assert.Equal(t, "session-1", sessions[0].SessionID)
	assert.Equal(t, StatePolling, sessions[0].State)
	assert.True(t, sessions[0].Live)
	assert.Equal(t, 1, h.events.count(models.EventSessionLaunched))
}

func TestRegistryLaunchValidationSkipsBackend(t *testing.T) {
	h := newRegistryHarness(t)
	params := launchParams()
	params.Parameters.Epochs = 0

	_, err := h.registry.Launch(context.Background(), params)
	assert.True(t, training.IsValidationError(err))
	assert.Zero(t, h.backend.launches)
	assert.Empty(t, h.registry.List())
}

func TestRegistryLaunchFailureCreatesNoSession(t *testing.T) {
	h := newRegistryHarness(t)
	h.backend.launchErr = &training.LaunchError{Reason: "queue full"}

	_, err := h.registry.Launch(context.Background(), launchParams())
	var launchErr *training.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Empty(t, h.registry.List())
	assert.Zero(t, h.events.count(models.EventSessionLaunched))
}

func TestRegistryLaunchAfterCloseStopsBackendSession(t *testing.T) {
	h := newRegistryHarness(t)
	h.registry.Close()

	result, err := h.registry.Launch(context.Background(), launchParams())
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.Equal(t, "session-1", result.SessionID)
	assert.Equal(t, []string{"session-1"}, h.backend.stopCalls())
	assert.Empty(t, h.registry.List())
}

func TestRegistryLaunchAfterCloseToleratesStopFailure(t *testing.T) {
	h := newRegistryHarness(t)
	h.backend.stopErr = training.ErrTransport
	h.registry.Close()

	_, err := h.registry.Launch(context.Background(), launchParams())
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.Len(t, h.backend.stopCalls(), 1)
}

func TestRegistryRejectsDuplicateMonitor(t *testing.T) {
	h := newRegistryHarness(t)

	_, err := h.registry.Monitor("S1")
	require.NoError(t, err)
	_, err = h.registry.Monitor("S1")
	assert.ErrorIs(t, err, ErrAlreadyMonitored)
}

func TestRegistryCompletionTearsDownOnce(t *testing.T) {
	h := newRegistryHarness(t)
	poller, err := h.registry.Monitor("S1")
	require.NoError(t, err)
	ticker := h.tickers.next(t)

	for epoch := 1; epoch <= 10; epoch++ {
		p := running(epoch, 10)
		if epoch == 10 {
			p = withStatus(p, training.StatusCompleted)
		}
		require.True(t, ticker.tick())
		h.backend.next(t).respond(p)
		poller.Wait()
	}

	require.Eventually(t, func() bool { return h.events.count(models.EventSessionTeardown) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, h.sinks["S1"].Closes())
	assert.Equal(t, 1, h.events.count(models.EventSessionTerminal))
	assert.Equal(t, 10, h.events.count(models.EventSessionProgress))
	assert.Empty(t, h.registry.List())
	assert.False(t, h.registry.Teardown("S1"))

	summary, ok := h.registry.Get("S1")
	require.True(t, ok)
	assert.False(t, summary.Live)
	assert.Equal(t, StateCompleted, summary.State)
	assert.Equal(t, 100.0, summary.Percent)
	assert.NotNil(t, summary.FinishedAt)

	ticker.tick()
	h.backend.assertIdle(t)
}

func TestRegistryStopMidRun(t *testing.T) {
	h := newRegistryHarness(t)
	poller, err := h.registry.Monitor("S1")
	require.NoError(t, err)
	ticker := h.tickers.next(t)

	for epoch := 1; epoch <= 4; epoch++ {
		require.True(t, ticker.tick())
		h.backend.next(t).respond(running(epoch, 10))
		poller.Wait()
	}
	require.True(t, ticker.tick())
	late := h.backend.next(t)

	result, err := h.registry.Stop(context.Background(), "S1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"S1"}, h.backend.stopCalls())

	late.respond(running(5, 10))
	poller.Wait()

	sink := h.sinks["S1"]
	assert.Len(t, sink.Points(training.MetricTrainingAccuracy), 4)
	assert.Equal(t, 1, sink.Closes())
	assert.Equal(t, StateStopped, poller.State())

	summary, ok := h.registry.Get("S1")
	require.True(t, ok)
	assert.Equal(t, StateStopped, summary.State)
	assert.Equal(t, 4, summary.CurrentEpoch)

	assert.False(t, h.registry.Teardown("S1"))
	_, err = h.registry.Stop(context.Background(), "S1")
	assert.ErrorIs(t, err, ErrNotMonitored)
	assert.Equal(t, 1, h.events.count(models.EventSessionTeardown))
	assert.Zero(t, h.events.count(models.EventSessionTerminal))
}

func TestRegistryStopBackendFailureKeepsMonitoring(t *testing.T) {
	h := newRegistryHarness(t)
	_, err := h.registry.Monitor("S1")
	require.NoError(t, err)
	h.backend.stopErr = training.ErrTransport

	_, err = h.registry.Stop(context.Background(), "S1")
	assert.ErrorIs(t, err, training.ErrTransport)

	summary, ok := h.registry.Get("S1")
	require.True(t, ok)
	assert.True(t, summary.Live)
	assert.Equal(t, StatePolling, summary.State)
}

func TestRegistryStopAlreadyFinishedOnBackend(t *testing.T) {
	h := newRegistryHarness(t)
	_, err := h.registry.Monitor("S1")
	require.NoError(t, err)
	h.backend.stopResult = training.StopResult{Success: false}

	result, err := h.registry.Stop(context.Background(), "S1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, h.registry.List())
}

func TestRegistrySnapshot(t *testing.T) {
	h := newRegistryHarness(t)
	poller, err := h.registry.Monitor("S1")
	require.NoError(t, err)
	ticker := h.tickers.next(t)

	require.True(t, ticker.tick())
	h.backend.next(t).respond(running(1, 10))
	poller.Wait()

	points, err := h.registry.Snapshot("S1", training.MetricTrainingLoss)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "Epoch 1", points[0].Label)

	_, err = h.registry.Snapshot("S1", "f1_score")
	assert.ErrorIs(t, err, ErrUnknownMetric)
	_, err = h.registry.Snapshot("S2", training.MetricTrainingLoss)
	assert.ErrorIs(t, err, ErrNotMonitored)

	summary, ok := h.registry.Get("S1")
	require.True(t, ok)
	assert.Len(t, summary.Series, 3)
	assert.Equal(t, 10.0, summary.Percent)
}

func TestRegistrySessionsAreIndependent(t *testing.T) {
	h := newRegistryHarness(t)
	_, err := h.registry.Monitor("S1")
	require.NoError(t, err)
	h.tickers.next(t)
	_, err = h.registry.Monitor("S2")
	require.NoError(t, err)
	h.tickers.next(t)

	assert.True(t, h.registry.Teardown("S1"))

	sessions := h.registry.List()
	require.Len(t, sessions, 1)
	assert.Equal(t, "S2", sessions[0].SessionID)
	assert.Zero(t, h.sinks["S2"].Closes())
}

func TestRegistryClose(t *testing.T) {
	h := newRegistryHarness(t)
	_, err := h.registry.Monitor("S1")
	require.NoError(t, err)

	h.registry.Close()

	assert.Empty(t, h.registry.List())
	assert.Equal(t, 1, h.sinks["S1"].Closes())
	_, err = h.registry.Monitor("S2")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
