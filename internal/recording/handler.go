package recording

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/response"
)

// ArtifactStore serves stored artifacts: short-lived download URLs and
// removal when a recording is deleted.
type ArtifactStore interface {
	PresignDownload(ctx context.Context, key string) (url string, expiresIn time.Duration, err error)
	DeleteArtifact(ctx context.Context, key string) error
}

// Handler exposes the recording lifecycle over HTTP.
type Handler struct {
	coordinator *Coordinator
	store       Store
	artifacts   ArtifactStore
	logger      *zap.Logger
}

// NewHandler creates a recording handler.
func NewHandler(coordinator *Coordinator, store Store, artifacts ArtifactStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coordinator: coordinator, store: store, artifacts: artifacts, logger: logger}
}

// Start handles POST /api/rooms/:roomId/recordings.
func (h *Handler) Start(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		response.BadRequest(c, "room id required")
		return
	}
	rec, err := h.coordinator.Start(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, rec)
}

// Stop handles POST /api/recordings/:recordingId/stop.
func (h *Handler) Stop(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("recordingId"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.coordinator.Stop(c.Request.Context(), recordingID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, rec)
}

// Get handles GET /api/recordings/:recordingId.
func (h *Handler) Get(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("recordingId"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.store.Get(c.Request.Context(), recordingID)
	if err != nil {
		h.writeError(c, storeErr(err))
		return
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return
	}
	response.OK(c, rec)
}

// ListByRoom handles GET /api/rooms/:roomId/recordings.
func (h *Handler) ListByRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		response.BadRequest(c, "room id required")
		return
	}
	list, err := h.store.ListByRoom(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, storeErr(err))
		return
	}
	response.OK(c, list)
}

// DownloadURL handles GET /api/recordings/:recordingId/download-url. Only
// COMPLETE recordings with collected artifact metadata can be downloaded.
func (h *Handler) DownloadURL(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("recordingId"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.store.Get(c.Request.Context(), recordingID)
	if err != nil {
		h.writeError(c, storeErr(err))
		return
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return
	}
	if rec.Status != models.RecordingComplete {
		response.Conflict(c, "recording not complete")
		return
	}
	if rec.ArtifactKey == nil {
		response.NotFound(c, "recording artifact not available yet")
		return
	}
	if h.artifacts == nil {
		response.ServiceUnavailable(c, "artifact store not configured")
		return
	}
	url, expiresIn, err := h.artifacts.PresignDownload(c.Request.Context(), *rec.ArtifactKey)
	if err != nil {
		h.logger.Error("presign artifact download failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expiresIn.Seconds())})
}

// Delete handles DELETE /api/recordings/:recordingId. Only terminal records
// can go; in-flight recordings must be stopped first. The artifact object is
// removed before the row so a failed removal stays discoverable.
func (h *Handler) Delete(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("recordingId"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	ctx := c.Request.Context()
	rec, err := h.store.Get(ctx, recordingID)
	if err != nil {
		h.writeError(c, storeErr(err))
		return
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return
	}
	if !rec.Status.IsTerminal() {
		response.Conflict(c, "recording still in progress")
		return
	}
	if rec.ArtifactKey != nil && h.artifacts != nil {
		if err := h.artifacts.DeleteArtifact(ctx, *rec.ArtifactKey); err != nil {
			h.logger.Error("delete artifact failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
			response.Internal(c, "failed to delete recording artifact")
			return
		}
	}
	if err := h.store.Delete(ctx, recordingID); err != nil {
		h.writeError(c, storeErr(err))
		return
	}
	h.logger.Info("recording deleted", zap.String("recording_id", recordingID.String()), zap.String("room_id", rec.RoomID))
	response.NoContent(c)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrAlreadyStarted),
		errors.Is(err, ErrCannotStopWhileStarting),
		errors.Is(err, ErrAlreadyStopped):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrPipelineUnavailable):
		h.logger.Error("pipeline request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.BadGateway(c, ErrPipelineUnavailable.Error())
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.Error("state store request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.ServiceUnavailable(c, ErrStoreUnavailable.Error())
	default:
		h.logger.Error("unexpected error", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "unexpected error")
	}
}
