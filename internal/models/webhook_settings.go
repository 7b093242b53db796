package models

import "time"

// WebhookSettings is the runtime webhook configuration. A single row shared
// by all instances; edits on one instance reach the others through the
// settings invalidation channel.
type WebhookSettings struct {
	Enabled   bool      `json:"enabled"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}
