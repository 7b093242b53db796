package recording

import "errors"

// Typed errors surfaced to the REST layer. The handler maps them onto HTTP
// statuses; everything else arriving from a request path is a 500.
var (
	// ErrRoomNotFound rejects starts against rooms the pipeline never
	// opened or already closed.
	ErrRoomNotFound = errors.New("room not found")

	// ErrAlreadyStarted covers both an existing non-terminal record and
	// losing the room lock to a concurrent start.
	ErrAlreadyStarted = errors.New("recording already started")

	// ErrNotFound means no record exists for the given recording id.
	ErrNotFound = errors.New("recording not found")

	// ErrCannotStopWhileStarting rejects stops before the pipeline has
	// confirmed the export.
	ErrCannotStopWhileStarting = errors.New("recording cannot be stopped while starting")

	// ErrAlreadyStopped rejects stops on records in ENDING or a terminal
	// status.
	ErrAlreadyStopped = errors.New("recording already stopped")

	// ErrInvalidTransition reports a status change outside the lifecycle
	// table. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid recording status transition")

	// ErrStoreUnavailable wraps failures of the shared state or lock store.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrPipelineUnavailable wraps failed requests to the media pipeline.
	ErrPipelineUnavailable = errors.New("media pipeline unavailable")
)
