package training

import (
	"context"
	"errors"
	"strings"

	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
)

// Launcher validates job parameters and submits them to a backend. It never
// starts monitoring; callers decide whether to watch the returned session.
type Launcher struct {
	backend Backend
}

func NewLauncher(backend Backend) *Launcher {
	return &Launcher{backend: backend}
}

func (l *Launcher) Launch(ctx context.Context, params LaunchParams) (LaunchResult, error) {
	if err := ValidateLaunch(params); err != nil {
		return LaunchResult{}, err
	}
	params.Targets = cleanTargets(params.Targets)

	result, err := l.backend.Launch(ctx, params)
	if err != nil {
		var launchErr *LaunchError
		if !errors.As(err, &launchErr) {
			launchErr = &LaunchError{Reason: "training backend unreachable", Err: err}
		}
		logger.Log.WithError(err).WithField("targets", params.Targets).Warn("training launch failed")
		return LaunchResult{}, launchErr
	}
	if result.SessionID == "" {
		return LaunchResult{}, &LaunchError{Reason: "backend returned no session id", Err: ErrMalformed}
	}

	logger.WithSession(result.SessionID).WithField("epochs", params.Parameters.Epochs).Info("training session launched")
	return result, nil
}

func cleanTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
