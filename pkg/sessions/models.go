package sessions

import (
	"time"

	"gorm.io/datatypes"
)

// SessionModel is the persisted history of one training session.
type SessionModel struct {
	ID               string            `gorm:"type:text;primaryKey;column:id"`
	Targets          datatypes.JSON    `gorm:"column:targets"`
	Type             string            `gorm:"column:type"`
	Topic            string            `gorm:"column:topic"`
	Parameters       datatypes.JSONMap `gorm:"column:parameters"`
	Status           string            `gorm:"column:status;index"`
	MonitorState     string            `gorm:"column:monitor_state"`
	CurrentEpoch     int               `gorm:"column:current_epoch"`
	TotalEpochs      int               `gorm:"column:total_epochs"`
	Metrics          datatypes.JSONMap `gorm:"column:metrics"`
	Source           string            `gorm:"column:source"`
	ErrorMessage     string            `gorm:"column:error_message"`
	EstimatedMinutes float64           `gorm:"column:estimated_minutes"`
	CreatedAt        time.Time         `gorm:"column:created_at;index"`
	UpdatedAt        time.Time         `gorm:"column:updated_at"`
	StartedAt        *time.Time        `gorm:"column:started_at"`
	CompletedAt      *time.Time        `gorm:"column:completed_at"`
}

func (SessionModel) TableName() string {
	return "training_sessions"
}

// ProgressUpdate carries the fields a progress or terminal event changes.
type ProgressUpdate struct {
	Status       string
	CurrentEpoch int
	TotalEpochs  int
	Metrics      map[string]interface{}
	Source       string
}
