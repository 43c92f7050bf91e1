package training

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validParams() LaunchParams {
	return LaunchParams{
		Targets: []string{"agent-1"},
		Type:    "individual",
		Topic:   "Individual Performance Enhancement",
		Parameters: Parameters{
			LearningRate:    0.001,
			BatchSize:       64,
			Epochs:          10,
			ValidationSplit: 0.2,
		},
	}
}

func TestValidateLaunch(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *LaunchParams)
		wantErr error
	}{
		{"valid", func(p *LaunchParams) {}, nil},
		{"no targets", func(p *LaunchParams) { p.Targets = nil }, errNoTargets},
		{"blank targets", func(p *LaunchParams) { p.Targets = []string{" ", ""} }, errNoTargets},
		{"zero epochs", func(p *LaunchParams) { p.Parameters.Epochs = 0 }, errInvalidEpochs},
		{"negative rate", func(p *LaunchParams) { p.Parameters.LearningRate = -1 }, errInvalidRate},
		{"negative batch", func(p *LaunchParams) { p.Parameters.BatchSize = -8 }, errInvalidBatch},
		{"split of one", func(p *LaunchParams) { p.Parameters.ValidationSplit = 1 }, errInvalidSplit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := ValidateLaunch(p)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, IsValidationError(err))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLaunchErrorUnwraps(t *testing.T) {
	err := &LaunchError{Reason: "training backend unreachable", Err: ErrTransport}
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "training backend unreachable")

	bare := &LaunchError{Reason: "quota exceeded"}
	assert.Equal(t, "launch failed: quota exceeded", bare.Error())
	assert.False(t, errors.Is(bare, ErrTransport))
}

func TestProgressValidate(t *testing.T) {
	ok := Progress{Status: StatusRunning, CurrentEpoch: 3, TotalEpochs: 10, TrainingAccuracy: 0.7, ValidationAccuracy: 0.6, TrainingLoss: 0.4}
	assert.NoError(t, ok.Validate())

	bad := []Progress{
		{Status: "exploded"},
		{Status: StatusRunning, CurrentEpoch: -1},
		{Status: StatusRunning, CurrentEpoch: 11, TotalEpochs: 10},
		{Status: StatusRunning, TrainingAccuracy: 1.5},
		{Status: StatusRunning, ValidationAccuracy: -0.1},
		{Status: StatusRunning, TrainingLoss: -2},
	}
	for _, p := range bad {
		assert.ErrorIs(t, p.Validate(), ErrMalformed, "%+v", p)
	}
}

func TestProgressHelpers(t *testing.T) {
	p := Progress{CurrentEpoch: 4, TotalEpochs: 10, TrainingAccuracy: 0.8, ValidationAccuracy: 0.75, TrainingLoss: 0.3}
	assert.InDelta(t, 40.0, p.Percent(), 1e-9)
	assert.Zero(t, Progress{}.Percent())

	v, ok := p.Metric(MetricValidationAccuracy)
	assert.True(t, ok)
	assert.Equal(t, 0.75, v)
	_, ok = p.Metric("sharpe_ratio")
	assert.False(t, ok)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusStopped.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
