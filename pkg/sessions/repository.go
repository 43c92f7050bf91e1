package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/synaptica-ai/trainwatch/pkg/training"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("training session not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&SessionModel{})
}

// Create inserts a session. Redelivered launch events are ignored.
func (r *Repository) Create(ctx context.Context, session *SessionModel) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(session).Error
}

// UpdateProgress applies an update unless a later epoch is already stored.
func (r *Repository) UpdateProgress(ctx context.Context, sessionID string, update ProgressUpdate) error {
	updates := map[string]interface{}{
		"status":        update.Status,
		"current_epoch": update.CurrentEpoch,
		"total_epochs":  update.TotalEpochs,
		"source":        update.Source,
		"updated_at":    time.Now().UTC(),
	}
	if update.Metrics != nil {
		updates["metrics"] = datatypes.JSONMap(update.Metrics)
	}
	return r.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ? AND current_epoch <= ?", sessionID, update.CurrentEpoch).
		Updates(updates).Error
}

// Finish records how monitoring of a session ended. completed_at keeps the
// first value written.
func (r *Repository) Finish(ctx context.Context, sessionID, monitorState, errorMessage string, at time.Time) error {
	updates := map[string]interface{}{
		"monitor_state": monitorState,
		"updated_at":    time.Now().UTC(),
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	if err := r.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", sessionID).Updates(updates).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ? AND completed_at IS NULL", sessionID).
		Update("completed_at", at.UTC()).Error
}

func (r *Repository) Get(ctx context.Context, sessionID string) (*SessionModel, error) {
	var session SessionModel
	result := r.db.WithContext(ctx).First(&session, "id = ?", sessionID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	return &session, result.Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]SessionModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []SessionModel
	result := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&sessions)
	return sessions, result.Error
}

// History lists recorded sessions newest first in the dashboard's shape.
func (r *Repository) History(ctx context.Context, limit int) ([]training.SessionSummary, error) {
	rows, err := r.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]training.SessionSummary, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.Summary())
	}
	return out, nil
}

// Summary converts a stored row into the backend's history shape.
func (m SessionModel) Summary() training.SessionSummary {
	var targets []string
	if len(m.Targets) > 0 {
		_ = json.Unmarshal(m.Targets, &targets)
	}

	var params training.Parameters
	if m.Parameters != nil {
		if raw, err := json.Marshal(m.Parameters); err == nil {
			_ = json.Unmarshal(raw, &params)
		}
	}

	progress := training.Progress{CurrentEpoch: m.CurrentEpoch, TotalEpochs: m.TotalEpochs}
	return training.SessionSummary{
		SessionID: m.ID,
		Params: training.LaunchParams{
			Targets:    targets,
			Type:       m.Type,
			Topic:      m.Topic,
			Parameters: params,
		},
		Status:       training.Status(m.Status),
		CurrentEpoch: m.CurrentEpoch,
		TotalEpochs:  m.TotalEpochs,
		Progress:     progress.Percent(),
	}
}
