package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/common/models"
	"gorm.io/datatypes"
)

// Store is the write side of the session history.
type Store interface {
	Create(ctx context.Context, session *SessionModel) error
	UpdateProgress(ctx context.Context, sessionID string, update ProgressUpdate) error
	Finish(ctx context.Context, sessionID, monitorState, errorMessage string, at time.Time) error
}

// Recorder projects session lifecycle events into the history store. Handle
// matches kafka.EventHandler.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Handle(ctx context.Context, event models.Event) error {
	sessionID := event.String("sessionId")
	if sessionID == "" {
		logger.Log.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Warn("Dropping session event without session id")
		return nil
	}

	var err error
	switch event.Type {
	case models.EventSessionLaunched:
		err = r.launched(ctx, sessionID, event)
	case models.EventSessionProgress:
		err = r.store.UpdateProgress(ctx, sessionID, progressUpdate(event))
	case models.EventSessionTerminal:
		if err = r.store.UpdateProgress(ctx, sessionID, progressUpdate(event)); err == nil {
			err = r.store.Finish(ctx, sessionID, event.String("state"), event.String("error"), eventTime(event))
		}
	case models.EventSessionTeardown:
		err = r.store.Finish(ctx, sessionID, event.String("state"), "", eventTime(event))
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record %s for session %s: %w", event.Type, sessionID, err)
	}
	return nil
}

func (r *Recorder) launched(ctx context.Context, sessionID string, event models.Event) error {
	targets, err := json.Marshal(stringSlice(event.Data["targets"]))
	if err != nil {
		return err
	}
	started := eventTime(event)
	return r.store.Create(ctx, &SessionModel{
		ID:               sessionID,
		Targets:          datatypes.JSON(targets),
		Type:             event.String("type"),
		Topic:            event.String("topic"),
		Parameters:       datatypes.JSONMap(event.Map("parameters")),
		Status:           "pending",
		MonitorState:     "polling",
		EstimatedMinutes: event.Float("estimatedDurationMinutes"),
		StartedAt:        &started,
	})
}

func progressUpdate(event models.Event) ProgressUpdate {
	return ProgressUpdate{
		Status:       event.String("status"),
		CurrentEpoch: event.Int("currentEpoch"),
		TotalEpochs:  event.Int("totalEpochs"),
		Source:       event.String("source"),
		Metrics: map[string]interface{}{
			"trainingAccuracy":   event.Float("trainingAccuracy"),
			"validationAccuracy": event.Float("validationAccuracy"),
			"trainingLoss":       event.Float("trainingLoss"),
		},
	}
}

func eventTime(event models.Event) time.Time {
	if event.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return event.Timestamp.UTC()
}

func stringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return []string{}
}
