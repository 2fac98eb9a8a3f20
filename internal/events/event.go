// Package events carries download notifications from background work to
// caller-facing sinks.
package events

import (
	"time"

	"streamsaver/pkg/models"
)

// Event names as seen by callers
const (
	TypeProgress = "onProgress"
	TypeSuccess  = "onSuccess"
	TypeFailure  = "onFailure"
)

// Event is the base interface all events implement.
type Event interface {
	EventType() string
	EntityID() string
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type      string    `json:"-"`
	ID        string    `json:"downloadId"`
	Timestamp time.Time `json:"occurredAt"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) EntityID() string      { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent creates a BaseEvent with the current timestamp.
func NewBaseEvent(eventType, downloadID string) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		ID:        downloadID,
		Timestamp: time.Now(),
	}
}

// Progress is one progress reading for an in-flight download
type Progress struct {
	BaseEvent
	URL      string  `json:"url"`
	Progress float64 `json:"progress"`
	ETA      int64   `json:"eta"`
	Line     string  `json:"line"`
}

// NewProgress wraps a progress reading
func NewProgress(p models.ProgressEvent) *Progress {
	return &Progress{
		BaseEvent: NewBaseEvent(TypeProgress, p.DownloadID),
		URL:       p.SourceURL,
		Progress:  p.PercentComplete,
		ETA:       p.EstimatedTimeRemaining,
		Line:      p.RawLogLine,
	}
}

// Success is the terminal notification for a finished download
type Success struct {
	BaseEvent
	Path string `json:"path"`
	URL  string `json:"url"`
}

// NewSuccess creates a success notification
func NewSuccess(downloadID, path, url string) *Success {
	return &Success{BaseEvent: NewBaseEvent(TypeSuccess, downloadID), Path: path, URL: url}
}

// Failure is the terminal notification for a failed download
type Failure struct {
	BaseEvent
	URL   string `json:"url"`
	Error string `json:"error"`
}

// NewFailure creates a failure notification
func NewFailure(downloadID, url string, err error) *Failure {
	return &Failure{BaseEvent: NewBaseEvent(TypeFailure, downloadID), URL: url, Error: err.Error()}
}
