package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Lifecycle event types carried on the wire.
const (
	EventMeetingStarted   = "meeting_started"
	EventMeetingEnded     = "meeting_ended"
	EventRecordingStarted = "recording_started"
	EventRecordingUpdated = "recording_updated"
	EventRecordingEnded   = "recording_ended"

	eventTest = "webhook_test"
)

// Event is the wire envelope for one notification.
type Event struct {
	Event        string `json:"event"`
	CreationDate int64  `json:"creationDate"`
	Data         any    `json:"data,omitempty"`
}

// Sign computes the hex HMAC-SHA256 of "<timestampMillis>.<body>" with the
// given secret. Receivers recompute it from the X-Timestamp header and the
// raw request body.
func Sign(secret string, timestampMillis int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMillis, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
