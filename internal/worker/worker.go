package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/queue"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/storage"
)

// RecordStore is the slice of the recording store the worker needs.
type RecordStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	SetArtifact(ctx context.Context, id uuid.UUID, key string, sizeBytes int64, durationSeconds *float64) error
}

// ObjectStore looks up artifact objects the pipeline wrote.
type ObjectStore interface {
	HeadArtifact(ctx context.Context, key string) (size int64, found bool, err error)
}

// ArtifactProcessor fills in artifact metadata for completed recordings: it
// heads the object the pipeline wrote and records its key and size. The
// pipeline may still be flushing the object when the job first runs, so a
// missing object goes back through the queue's retry path.
type ArtifactProcessor struct {
	store  RecordStore
	s3     ObjectStore
	queue  *queue.Queue
	logger *zap.Logger
}

// NewArtifactProcessor creates an artifact metadata processor.
func NewArtifactProcessor(store RecordStore, s3 ObjectStore, q *queue.Queue, logger *zap.Logger) *ArtifactProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactProcessor{store: store, s3: s3, queue: q, logger: logger}
}

// Process executes one artifact metadata job.
func (p *ArtifactProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArtifactMetadata {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArtifactMetadataPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.store.Get(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("recording not found: %s", payload.RecordingID)
	}
	if rec.Status != models.RecordingComplete {
		p.logger.Info("skipping artifact job for non-complete recording",
			zap.String("recording_id", rec.ID.String()),
			zap.String("status", string(rec.Status)))
		return nil
	}
	if rec.ArtifactKey != nil {
		p.logger.Info("artifact metadata already collected", zap.String("recording_id", rec.ID.String()))
		return nil
	}

	key := storage.ArtifactKey(payload.RoomID, payload.ExportID)
	size, found, err := p.s3.HeadArtifact(ctx, key)
	if err != nil {
		return fmt.Errorf("head artifact: %w", err)
	}
	if !found {
		return fmt.Errorf("artifact not in object store yet: %s", key)
	}

	var duration *float64
	if rec.EndedAt != nil {
		d := rec.EndedAt.Sub(rec.StartedAt).Seconds()
		duration = &d
	}
	if err := p.store.SetArtifact(ctx, rec.ID, key, size, duration); err != nil {
		return fmt.Errorf("update recording: %w", err)
	}

	p.logger.Info("artifact metadata collected",
		zap.String("recording_id", rec.ID.String()),
		zap.String("artifact_key", key),
		zap.Int64("size_bytes", size))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArtifactProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("artifact worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("artifact worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
