package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

func TestClassify(t *testing.T) {
	failed := withStatus(running(2, 10), training.StatusFailed)
	failed.Error = "diverged"

	cases := []struct {
		name     string
		progress training.Progress
		err      error
		kind     OutcomeKind
		wantErr  error
	}{
		{name: "pending", progress: training.Progress{Status: training.StatusPending}, kind: OutcomePending},
		{name: "running", progress: running(1, 10), kind: OutcomeRunning},
		{name: "completed", progress: withStatus(running(10, 10), training.StatusCompleted), kind: OutcomeCompleted},
		{name: "stopped", progress: withStatus(running(4, 10), training.StatusStopped), kind: OutcomeStopped},
		{name: "failed", progress: failed, kind: OutcomeFailed, wantErr: ErrSessionFailed},
		{name: "unknown status", progress: training.Progress{Status: "exploded"}, kind: OutcomeMalformed, wantErr: ErrMalformedProgress},
		{name: "epoch overflow", progress: running(11, 10), kind: OutcomeMalformed, wantErr: ErrMalformedProgress},
		{name: "decode error", err: fmt.Errorf("bad json: %w", training.ErrMalformed), kind: OutcomeMalformed, wantErr: ErrMalformedProgress},
		{name: "transport", err: fmt.Errorf("dial: %w", training.ErrTransport), kind: OutcomeTransient, wantErr: training.ErrTransport},
		{name: "timeout", err: context.DeadlineExceeded, kind: OutcomeTransient, wantErr: context.DeadlineExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Classify(tc.progress, tc.err)
			assert.Equal(t, tc.kind, outcome.Kind)
			if tc.wantErr != nil {
				assert.ErrorIs(t, outcome.Err, tc.wantErr)
			} else {
				assert.NoError(t, outcome.Err)
			}
		})
	}
}

func TestClassifyFailedWithoutReason(t *testing.T) {
	outcome := Classify(withStatus(running(1, 10), training.StatusFailed), nil)
	assert.ErrorIs(t, outcome.Err, ErrSessionFailed)
	assert.Contains(t, outcome.Err.Error(), "backend reported failure")
}

func TestStateText(t *testing.T) {
	raw, err := json.Marshal(map[string]State{"state": StateCompleted})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"state":"completed"}`, string(raw))

	assert.False(t, StatePolling.Terminal())
	assert.True(t, StateStopped.Terminal())
	assert.Equal(t, "state(9)", State(9).String())
	assert.Equal(t, "transient", OutcomeTransient.String())
}
