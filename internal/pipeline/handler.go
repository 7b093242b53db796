package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/recording"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/webhook"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/response"
)

// Event types the pipeline posts to the callback endpoint.
const (
	eventRoomStarted    = "room_started"
	eventRoomFinished   = "room_finished"
	eventExportActive   = "export_active"
	eventExportEnding   = "export_ending"
	eventExportComplete = "export_complete"
	eventExportFailed   = "export_failed"
)

// statusEvent is the notification body posted by the pipeline. Callbacks may
// land on any instance, not just the one that started the export.
type statusEvent struct {
	Event    string `json:"event" binding:"required"`
	RoomID   string `json:"room_id"`
	ExportID string `json:"export_id"`
	Reason   string `json:"reason,omitempty"`
}

// Coordinator is the recording side of export callbacks.
type Coordinator interface {
	HandleExportActive(ctx context.Context, exportID string) error
	HandleExportEnding(ctx context.Context, exportID string) error
	HandleExportComplete(ctx context.Context, exportID string) error
	HandleExportFailed(ctx context.Context, exportID, reason string) error
}

// RoomRegistry tracks room lifecycle from room events.
type RoomRegistry interface {
	Open(ctx context.Context, roomID string) error
	Close(ctx context.Context, roomID string) error
}

// Notifier emits the meeting lifecycle webhooks derived from room events.
type Notifier interface {
	NotifyInBackground(event string, data any)
}

type meetingEventData struct {
	RoomID string `json:"room_id"`
}

// Handler receives the pipeline's asynchronous status notifications.
type Handler struct {
	coordinator Coordinator
	rooms       RoomRegistry
	notifier    Notifier
	logger      *zap.Logger
}

// NewHandler creates a pipeline callback handler.
func NewHandler(coordinator Coordinator, rooms RoomRegistry, notifier Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coordinator: coordinator, rooms: rooms, notifier: notifier, logger: logger}
}

// Events handles POST /internal/pipeline/events.
func (h *Handler) Events(c *gin.Context) {
	var ev statusEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	var err error
	switch ev.Event {
	case eventRoomStarted, eventRoomFinished:
		if ev.RoomID == "" {
			response.BadRequest(c, "room_id required")
			return
		}
		if ev.Event == eventRoomStarted {
			err = h.rooms.Open(ctx, ev.RoomID)
		} else {
			err = h.rooms.Close(ctx, ev.RoomID)
		}
		if err != nil {
			// registry failures are store failures; let the pipeline retry
			err = fmt.Errorf("%w: %v", recording.ErrStoreUnavailable, err)
		}
		if err == nil {
			event := webhook.EventMeetingStarted
			if ev.Event == eventRoomFinished {
				event = webhook.EventMeetingEnded
			}
			h.notifier.NotifyInBackground(event, meetingEventData{RoomID: ev.RoomID})
		}
	case eventExportActive, eventExportEnding, eventExportComplete, eventExportFailed:
		if ev.ExportID == "" {
			response.BadRequest(c, "export_id required")
			return
		}
		switch ev.Event {
		case eventExportActive:
			err = h.coordinator.HandleExportActive(ctx, ev.ExportID)
		case eventExportEnding:
			err = h.coordinator.HandleExportEnding(ctx, ev.ExportID)
		case eventExportComplete:
			err = h.coordinator.HandleExportComplete(ctx, ev.ExportID)
		case eventExportFailed:
			err = h.coordinator.HandleExportFailed(ctx, ev.ExportID, ev.Reason)
		}
	default:
		h.logger.Warn("ignoring unknown pipeline event", zap.String("event", ev.Event))
		response.OK(c, gin.H{"handled": false})
		return
	}

	if err != nil {
		h.logger.Error("pipeline event handling failed",
			zap.String("event", ev.Event),
			zap.String("room_id", ev.RoomID),
			zap.String("export_id", ev.ExportID),
			zap.Error(err))
		if errors.Is(err, recording.ErrStoreUnavailable) {
			// tell the pipeline to retry once the store is back
			response.ServiceUnavailable(c, "state store unavailable")
			return
		}
		response.Internal(c, "event handling failed")
		return
	}
	response.OK(c, gin.H{"handled": true})
}
