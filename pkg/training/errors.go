package training

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks failures that may succeed on retry.
	ErrTransport = errors.New("training backend unreachable")

	// ErrMalformed marks responses that cannot be interpreted.
	ErrMalformed = errors.New("malformed training backend response")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("training session not found")
)

var (
	errNoTargets     = errors.New("at least one target is required")
	errInvalidEpochs = errors.New("epochs must be positive")
	errInvalidRate   = errors.New("learning rate must not be negative")
	errInvalidBatch  = errors.New("batch size must not be negative")
	errInvalidSplit  = errors.New("validation split must be in [0, 1)")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// LaunchError reports a launch the backend rejected or never received.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("launch failed: %s", e.Reason)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ValidateLaunch rejects parameters locally, before any network call.
func ValidateLaunch(params LaunchParams) error {
	targets := 0
	for _, t := range params.Targets {
		if strings.TrimSpace(t) != "" {
			targets++
		}
	}
	if targets == 0 {
		return ValidationError{reason: errNoTargets}
	}

	p := params.Parameters
	if p.Epochs <= 0 {
		return ValidationError{reason: fmt.Errorf("epochs=%d: %w", p.Epochs, errInvalidEpochs)}
	}
	if p.LearningRate < 0 {
		return ValidationError{reason: fmt.Errorf("learningRate=%v: %w", p.LearningRate, errInvalidRate)}
	}
	if p.BatchSize < 0 {
		return ValidationError{reason: fmt.Errorf("batchSize=%d: %w", p.BatchSize, errInvalidBatch)}
	}
	if p.ValidationSplit < 0 || p.ValidationSplit >= 1 {
		return ValidationError{reason: fmt.Errorf("validationSplit=%v: %w", p.ValidationSplit, errInvalidSplit)}
	}
	return nil
}
