package training

import (
	"fmt"

	"github.com/synaptica-ai/trainwatch/pkg/series"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// Names of the per-epoch metrics a progress payload carries.
const (
	MetricTrainingAccuracy   = "training_accuracy"
	MetricValidationAccuracy = "validation_accuracy"
	MetricTrainingLoss       = "training_loss"
)

// DefaultMetrics is the set of metrics charted when none are configured.
var DefaultMetrics = []string{MetricTrainingAccuracy, MetricValidationAccuracy, MetricTrainingLoss}

type Parameters struct {
	LearningRate    float64 `json:"learningRate,omitempty"`
	BatchSize       int     `json:"batchSize,omitempty"`
	Epochs          int     `json:"epochs"`
	ValidationSplit float64 `json:"validationSplit,omitempty"`
	Optimizer       string  `json:"optimizer,omitempty"`
	Regularization  string  `json:"regularization,omitempty"`
}

// LaunchParams describes one training job. Targets are the agents to train.
type LaunchParams struct {
	Targets    []string   `json:"agentIds"`
	Type       string     `json:"type,omitempty"`
	Topic      string     `json:"topic,omitempty"`
	Parameters Parameters `json:"parameters"`
}

type LaunchResult struct {
	SessionID                string  `json:"sessionId"`
	EstimatedDurationMinutes float64 `json:"estimatedDurationMinutes"`
}

// Progress is one status report for a session.
type Progress struct {
	SessionID          string            `json:"sessionId,omitempty"`
	Status             Status            `json:"status"`
	CurrentEpoch       int               `json:"currentEpoch"`
	TotalEpochs        int               `json:"totalEpochs"`
	TrainingAccuracy   float64           `json:"trainingAccuracy"`
	ValidationAccuracy float64           `json:"validationAccuracy"`
	TrainingLoss       float64           `json:"trainingLoss"`
	Error              string            `json:"error,omitempty"`
	Source             series.DataSource `json:"source"`
}

// Percent returns completion as currentEpoch/totalEpochs*100.
func (p Progress) Percent() float64 {
	if p.TotalEpochs <= 0 {
		return 0
	}
	return float64(p.CurrentEpoch) / float64(p.TotalEpochs) * 100
}

// Metric returns the value of a named per-epoch metric.
func (p Progress) Metric(name string) (float64, bool) {
	switch name {
	case MetricTrainingAccuracy:
		return p.TrainingAccuracy, true
	case MetricValidationAccuracy:
		return p.ValidationAccuracy, true
	case MetricTrainingLoss:
		return p.TrainingLoss, true
	}
	return 0, false
}

// Validate checks the payload is well formed. Failures wrap ErrMalformed.
func (p Progress) Validate() error {
	switch {
	case !p.Status.valid():
		return fmt.Errorf("unknown status %q: %w", p.Status, ErrMalformed)
	case p.CurrentEpoch < 0 || p.TotalEpochs < 0:
		return fmt.Errorf("negative epoch counters: %w", ErrMalformed)
	case p.TotalEpochs > 0 && p.CurrentEpoch > p.TotalEpochs:
		return fmt.Errorf("epoch %d beyond total %d: %w", p.CurrentEpoch, p.TotalEpochs, ErrMalformed)
	case p.TrainingAccuracy < 0 || p.TrainingAccuracy > 1:
		return fmt.Errorf("training accuracy %v out of range: %w", p.TrainingAccuracy, ErrMalformed)
	case p.ValidationAccuracy < 0 || p.ValidationAccuracy > 1:
		return fmt.Errorf("validation accuracy %v out of range: %w", p.ValidationAccuracy, ErrMalformed)
	case p.TrainingLoss < 0:
		return fmt.Errorf("negative training loss: %w", ErrMalformed)
	}
	return nil
}

type StopResult struct {
	Success bool `json:"success"`
}

// SessionSummary is one row of the backend's session history.
type SessionSummary struct {
	SessionID    string       `json:"sessionId"`
	Params       LaunchParams `json:"params"`
	Status       Status       `json:"status"`
	CurrentEpoch int          `json:"currentEpoch"`
	TotalEpochs  int          `json:"totalEpochs"`
	Progress     float64      `json:"progress"`
}
