package models

import "time"

// Room status as reported by the media pipeline's room events.
const (
	RoomOpen   = "open"
	RoomClosed = "closed"
)

// Room mirrors a meeting room the pipeline has told us about. The console
// only needs enough of it to answer "is this room live" during recording
// starts and lock reclamation.
type Room struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
