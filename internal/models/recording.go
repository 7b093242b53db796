package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus is the lifecycle state of a recording.
type RecordingStatus string

const (
	RecordingStarting RecordingStatus = "STARTING"
	RecordingActive   RecordingStatus = "ACTIVE"
	RecordingEnding   RecordingStatus = "ENDING"
	RecordingComplete RecordingStatus = "COMPLETE"
	RecordingFailed   RecordingStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s RecordingStatus) IsTerminal() bool {
	return s == RecordingComplete || s == RecordingFailed
}

// CanTransition reports whether a recording may move from one status to
// another. Order is strict along STARTING -> ACTIVE -> ENDING -> COMPLETE;
// FAILED is reachable from every non-terminal status.
func CanTransition(from, to RecordingStatus) bool {
	switch from {
	case RecordingStarting:
		return to == RecordingActive || to == RecordingFailed
	case RecordingActive:
		return to == RecordingEnding || to == RecordingFailed
	case RecordingEnding:
		return to == RecordingComplete || to == RecordingFailed
	default:
		return false
	}
}

// TransitionSources returns every status a record may be in immediately
// before moving to the given status. Used for conditional updates.
func TransitionSources(to RecordingStatus) []RecordingStatus {
	all := []RecordingStatus{RecordingStarting, RecordingActive, RecordingEnding, RecordingComplete, RecordingFailed}
	var from []RecordingStatus
	for _, s := range all {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Recording tracks one capture session of a room. The actual capture runs in
// the media pipeline, which identifies it by ExportID.
type Recording struct {
	ID              uuid.UUID       `json:"id"`
	RoomID          string          `json:"room_id"`
	ExportID        string          `json:"export_id"`
	Status          RecordingStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	StartTimeoutAt  time.Time       `json:"start_timeout_at"`
	ArtifactKey     *string         `json:"artifact_key,omitempty"`
	SizeBytes       *int64          `json:"size_bytes,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
