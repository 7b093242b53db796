package worker

import (
	"context"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/queue"
)

// JobEnqueuer adapts the Redis job queue to the coordinator's view of
// artifact work.
type JobEnqueuer struct {
	Queue *queue.Queue
}

// EnqueueArtifact queues metadata collection for a completed recording.
func (e JobEnqueuer) EnqueueArtifact(ctx context.Context, rec *models.Recording) error {
	return e.Queue.EnqueueArtifactMetadata(ctx, queue.ArtifactMetadataPayload{
		RecordingID: rec.ID,
		RoomID:      rec.RoomID,
		ExportID:    rec.ExportID,
	})
}
