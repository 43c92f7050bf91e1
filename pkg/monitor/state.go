package monitor

import (
	"errors"
	"fmt"

	"github.com/synaptica-ai/trainwatch/pkg/training"
)

// State is the poller's position in Idle → Polling → {Completed, Stopped, Failed}.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateCompleted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s is one of the one-way end states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

var (
	ErrPollerNotIdle      = errors.New("poller is not idle")
	ErrAlreadyMonitored   = errors.New("session already monitored")
	ErrNotMonitored       = errors.New("session not monitored")
	ErrSessionFailed      = errors.New("training session failed")
	ErrMalformedProgress  = errors.New("malformed progress payload")
	ErrBackendUnreachable = errors.New("training backend unreachable for too long")
	ErrUnknownMetric      = errors.New("metric not tracked")
)

// OutcomeKind tags what a single poll produced.
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeRunning
	OutcomeCompleted
	OutcomeStopped
	OutcomeFailed
	OutcomeMalformed
	OutcomeTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeRunning:
		return "running"
	case OutcomeCompleted:
		return "completed"
	case OutcomeStopped:
		return "stopped"
	case OutcomeFailed:
		return "failed"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTransient:
		return "transient"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// terminal reports whether the backend said the session is over.
func (k OutcomeKind) terminal() bool {
	return k == OutcomeCompleted || k == OutcomeStopped || k == OutcomeFailed
}

// Outcome is the classified result of one poll.
type Outcome struct {
	Kind     OutcomeKind
	Progress training.Progress
	Err      error
}

// Classify maps a fetch result onto an Outcome. Errors wrapping
// training.ErrMalformed are terminal; every other error is transient.
func Classify(progress training.Progress, err error) Outcome {
	if err != nil {
		if errors.Is(err, training.ErrMalformed) {
			return Outcome{Kind: OutcomeMalformed, Err: fmt.Errorf("%w: %v", ErrMalformedProgress, err)}
		}
		return Outcome{Kind: OutcomeTransient, Err: err}
	}
	if verr := progress.Validate(); verr != nil {
		return Outcome{Kind: OutcomeMalformed, Err: fmt.Errorf("%w: %v", ErrMalformedProgress, verr)}
	}

	switch progress.Status {
	case training.StatusPending:
		return Outcome{Kind: OutcomePending, Progress: progress}
	case training.StatusRunning:
		return Outcome{Kind: OutcomeRunning, Progress: progress}
	case training.StatusCompleted:
		return Outcome{Kind: OutcomeCompleted, Progress: progress}
	case training.StatusStopped:
		return Outcome{Kind: OutcomeStopped, Progress: progress}
	case training.StatusFailed:
		reason := progress.Error
		if reason == "" {
			reason = "backend reported failure"
		}
		return Outcome{Kind: OutcomeFailed, Progress: progress, Err: fmt.Errorf("%w: %s", ErrSessionFailed, reason)}
	}
	return Outcome{Kind: OutcomeMalformed, Err: fmt.Errorf("%w: status %q", ErrMalformedProgress, progress.Status)}
}
