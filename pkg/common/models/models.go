package models

import (
	"time"
)

// Lifecycle event types published for every monitored training session.
const (
	EventSessionLaunched = "session.launched"
	EventSessionProgress = "session.progress"
	EventSessionTerminal = "session.terminal"
	EventSessionTeardown = "session.teardown"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // session.launched, session.progress, session.terminal, session.teardown
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// String returns Data[key] when it holds a string.
func (e Event) String(key string) string {
	v, _ := e.Data[key].(string)
	return v
}

// Int returns Data[key] as an int. JSON numbers decode as float64.
func (e Event) Int(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns Data[key] as a float64.
func (e Event) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Map returns Data[key] when it holds a JSON object.
func (e Event) Map(key string) map[string]interface{} {
	v, _ := e.Data[key].(map[string]interface{})
	return v
}
