package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/lock"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/webhook"
)

// Pipeline is the slice of the media pipeline client the coordinator needs.
type Pipeline interface {
	StartExport(ctx context.Context, roomID string) (exportID string, err error)
	StopExport(ctx context.Context, exportID string) error
}

// Notifier delivers lifecycle webhooks without blocking the caller.
type Notifier interface {
	NotifyInBackground(event string, data any)
}

// Timers schedules the per-room start-timeout callbacks. Cancel is a no-op
// for unknown or already-fired keys.
type Timers interface {
	ScheduleOnce(key string, delay time.Duration, fn func()) (cancel func())
	Cancel(key string)
}

// RoomDirectory answers whether a room is currently live.
type RoomDirectory interface {
	IsOpen(ctx context.Context, roomID string) (bool, error)
}

// ArtifactJobs enqueues post-completion artifact metadata work.
type ArtifactJobs interface {
	EnqueueArtifact(ctx context.Context, rec *models.Recording) error
}

// Options tunes the coordinator's timing behavior.
type Options struct {
	// LockTTL bounds how long a crashed holder can keep a room locked
	// before the store expires it.
	LockTTL time.Duration
	// StartTimeout is how long the pipeline gets to confirm an export
	// before the attempt is failed.
	StartTimeout time.Duration
	// AcquireAttempts and AcquireRetryDelay configure lock acquisition.
	// One attempt means non-blocking.
	AcquireAttempts   int
	AcquireRetryDelay time.Duration
}

// Coordinator drives recordings through their lifecycle: it serializes
// starts per room through the lock manager, applies pipeline callbacks to
// the state store, and emits lifecycle webhooks. All shared state lives in
// the injected stores, so callbacks may land on any instance.
type Coordinator struct {
	store     Store
	locks     *lock.Manager
	pipeline  Pipeline
	timers    Timers
	notifier  Notifier
	rooms     RoomDirectory
	artifacts ArtifactJobs
	opts      Options
	logger    *zap.Logger
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(store Store, locks *lock.Manager, pipeline Pipeline, timers Timers, notifier Notifier, rooms RoomDirectory, artifacts ArtifactJobs, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Hour
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = time.Minute
	}
	if opts.AcquireAttempts < 1 {
		opts.AcquireAttempts = 1
	}
	return &Coordinator{
		store:     store,
		locks:     locks,
		pipeline:  pipeline,
		timers:    timers,
		notifier:  notifier,
		rooms:     rooms,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger,
	}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func pipelineErr(err error) error {
	return fmt.Errorf("%w: %v", ErrPipelineUnavailable, err)
}

// Start begins a recording for the room. At most one recording can run per
// room at a time: the state store is consulted first, then the room lock
// arbitrates concurrent starts racing past that check.
func (c *Coordinator) Start(ctx context.Context, roomID string) (*models.Recording, error) {
	open, err := c.rooms.IsOpen(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !open {
		return nil, ErrRoomNotFound
	}

	if active, err := c.store.FindActiveByRoom(ctx, roomID); err != nil {
		return nil, storeErr(err)
	} else if active != nil {
		return nil, ErrAlreadyStarted
	}

	handle, err := c.locks.AcquireWithRetry(ctx, roomID, c.opts.LockTTL, c.opts.AcquireAttempts, c.opts.AcquireRetryDelay)
	if err != nil {
		return nil, storeErr(err)
	}
	if handle == nil {
		return nil, ErrAlreadyStarted
	}

	exportID, err := c.pipeline.StartExport(ctx, roomID)
	if err != nil {
		c.releaseHandle(ctx, handle)
		return nil, pipelineErr(err)
	}

	now := time.Now()
	rec := &models.Recording{
		RoomID:         roomID,
		ExportID:       exportID,
		Status:         models.RecordingStarting,
		StartedAt:      now,
		StartTimeoutAt: now.Add(c.opts.StartTimeout),
	}
	if err := c.store.Create(ctx, rec); err != nil {
		// roll back the export and the lock; the attempt never happened
		if stopErr := c.pipeline.StopExport(ctx, exportID); stopErr != nil {
			c.logger.Warn("stop export after failed create", zap.Error(stopErr), zap.String("export_id", exportID))
		}
		c.releaseHandle(ctx, handle)
		return nil, storeErr(err)
	}

	recordingID := rec.ID
	c.timers.ScheduleOnce(roomID, c.opts.StartTimeout, func() {
		if err := c.FailStartTimeout(context.Background(), recordingID); err != nil {
			c.logger.Error("start-timeout cleanup failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		}
	})

	c.notifier.NotifyInBackground(webhook.EventRecordingStarted, rec)
	c.logger.Info("recording starting",
		zap.String("recording_id", rec.ID.String()),
		zap.String("room_id", roomID),
		zap.String("export_id", exportID))
	return rec, nil
}

// Stop ends an active recording. Stops are only valid from ACTIVE: a
// STARTING recording has no confirmed export to stop yet, and anything past
// ACTIVE is already on its way down.
func (c *Coordinator) Stop(ctx context.Context, recordingID uuid.UUID) (*models.Recording, error) {
	rec, err := c.store.Get(ctx, recordingID)
	if err != nil {
		return nil, storeErr(err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	switch rec.Status {
	case models.RecordingStarting:
		return nil, ErrCannotStopWhileStarting
	case models.RecordingEnding, models.RecordingComplete, models.RecordingFailed:
		return nil, ErrAlreadyStopped
	}

	if err := c.pipeline.StopExport(ctx, rec.ExportID); err != nil {
		return nil, pipelineErr(err)
	}

	updated, err := c.store.Transition(ctx, recordingID, models.RecordingEnding, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// a pipeline callback moved it first
			return nil, ErrAlreadyStopped
		}
		return nil, storeErr(err)
	}
	if updated == nil {
		// deleted between the status check and the update
		return nil, ErrNotFound
	}
	c.notifier.NotifyInBackground(webhook.EventRecordingUpdated, updated)
	c.logger.Info("recording stopping",
		zap.String("recording_id", recordingID.String()),
		zap.String("room_id", rec.RoomID))
	return updated, nil
}

// HandleExportActive applies the pipeline's confirmation that the export is
// running: STARTING -> ACTIVE, and the start-timeout timer is disarmed.
func (c *Coordinator) HandleExportActive(ctx context.Context, exportID string) error {
	rec, err := c.lookupExport(ctx, exportID)
	if rec == nil || err != nil {
		return err
	}
	updated, err := c.store.Transition(ctx, rec.ID, models.RecordingActive, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			c.logConflict("export active", rec, err)
			c.timers.Cancel(rec.RoomID)
			return nil
		}
		return storeErr(err)
	}
	c.timers.Cancel(rec.RoomID)
	if updated == nil {
		c.logVanished("export active", rec)
		return nil
	}
	c.notifier.NotifyInBackground(webhook.EventRecordingUpdated, updated)
	c.logger.Info("recording active", zap.String("recording_id", rec.ID.String()), zap.String("room_id", rec.RoomID))
	return nil
}

// HandleExportEnding applies the pipeline's report that the export began
// shutting down: ACTIVE -> ENDING.
func (c *Coordinator) HandleExportEnding(ctx context.Context, exportID string) error {
	rec, err := c.lookupExport(ctx, exportID)
	if rec == nil || err != nil {
		return err
	}
	updated, err := c.store.Transition(ctx, rec.ID, models.RecordingEnding, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			c.logConflict("export ending", rec, err)
			return nil
		}
		return storeErr(err)
	}
	if updated == nil {
		c.logVanished("export ending", rec)
		return nil
	}
	c.notifier.NotifyInBackground(webhook.EventRecordingUpdated, updated)
	return nil
}

// HandleExportComplete finalizes a recording: ENDING -> COMPLETE, the room
// lock is released and artifact metadata collection is queued.
func (c *Coordinator) HandleExportComplete(ctx context.Context, exportID string) error {
	rec, err := c.lookupExport(ctx, exportID)
	if rec == nil || err != nil {
		return err
	}
	updated, err := c.store.Transition(ctx, rec.ID, models.RecordingComplete, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			c.logConflict("export complete", rec, err)
			return nil
		}
		return storeErr(err)
	}
	if updated == nil {
		c.logVanished("export complete", rec)
		return nil
	}
	c.finalize(ctx, updated)
	if err := c.artifacts.EnqueueArtifact(ctx, updated); err != nil {
		c.logger.Error("enqueue artifact job failed", zap.Error(err), zap.String("recording_id", updated.ID.String()))
	}
	c.notifier.NotifyInBackground(webhook.EventRecordingEnded, updated)
	c.logger.Info("recording complete", zap.String("recording_id", updated.ID.String()), zap.String("room_id", updated.RoomID))
	return nil
}

// HandleExportFailed finalizes a recording the pipeline gave up on: any
// non-terminal status -> FAILED.
func (c *Coordinator) HandleExportFailed(ctx context.Context, exportID, reason string) error {
	rec, err := c.lookupExport(ctx, exportID)
	if rec == nil || err != nil {
		return err
	}
	if reason == "" {
		reason = "media pipeline reported export failure"
	}
	updated, err := c.store.Transition(ctx, rec.ID, models.RecordingFailed, &reason)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			c.logConflict("export failed", rec, err)
			return nil
		}
		return storeErr(err)
	}
	if updated == nil {
		c.logVanished("export failed", rec)
		return nil
	}
	c.finalize(ctx, updated)
	c.notifier.NotifyInBackground(webhook.EventRecordingEnded, updated)
	c.logger.Warn("recording failed",
		zap.String("recording_id", updated.ID.String()),
		zap.String("room_id", updated.RoomID),
		zap.String("reason", reason))
	return nil
}

// FailStartTimeout gives up on a recording whose export was never confirmed.
// It runs from the in-process timer on the starting instance and from the
// periodic sweep on whichever instance picks the record up after a crash.
// The transition is pinned to STARTING so a confirmation racing in between
// the status check and the update cannot be clobbered.
func (c *Coordinator) FailStartTimeout(ctx context.Context, recordingID uuid.UUID) error {
	rec, err := c.store.Get(ctx, recordingID)
	if err != nil {
		return storeErr(err)
	}
	if rec == nil || rec.Status != models.RecordingStarting {
		return nil
	}

	if rec.ExportID != "" {
		if err := c.pipeline.StopExport(ctx, rec.ExportID); err != nil {
			c.logger.Warn("stop export on start timeout", zap.Error(err), zap.String("export_id", rec.ExportID))
		}
	}

	reason := "media pipeline did not confirm the export within the start timeout"
	updated, err := c.store.TransitionFrom(ctx, recordingID, models.RecordingStarting, models.RecordingFailed, &reason)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// confirmed or finalized while we were cleaning up
			return nil
		}
		return storeErr(err)
	}
	if updated == nil {
		return nil
	}
	c.finalize(ctx, updated)
	c.notifier.NotifyInBackground(webhook.EventRecordingEnded, updated)
	c.logger.Warn("recording start timed out",
		zap.String("recording_id", recordingID.String()),
		zap.String("room_id", rec.RoomID))
	return nil
}

// lookupExport resolves a pipeline callback to its record. Unknown exports
// are logged and swallowed so the pipeline does not keep retrying them.
func (c *Coordinator) lookupExport(ctx context.Context, exportID string) (*models.Recording, error) {
	rec, err := c.store.GetByExportID(ctx, exportID)
	if err != nil {
		return nil, storeErr(err)
	}
	if rec == nil {
		c.logger.Warn("callback for unknown export", zap.String("export_id", exportID))
		return nil, nil
	}
	return rec, nil
}

// finalize runs the side effects shared by every terminal transition.
func (c *Coordinator) finalize(ctx context.Context, rec *models.Recording) {
	c.timers.Cancel(rec.RoomID)
	if err := c.locks.ReleaseKey(ctx, rec.RoomID); err != nil {
		// the lock TTL or the reclamation sweep will get it eventually
		c.logger.Error("release room lock failed", zap.Error(err), zap.String("room_id", rec.RoomID))
	}
}

func (c *Coordinator) releaseHandle(ctx context.Context, h *lock.Handle) {
	if err := c.locks.Release(ctx, h); err != nil {
		c.logger.Error("release room lock failed", zap.Error(err), zap.String("room_id", h.Key))
	}
}

// logVanished notes a record that was deleted between a callback's lookup
// and its conditional update. The delete already cleaned up, so the callback
// has nothing left to do.
func (c *Coordinator) logVanished(event string, rec *models.Recording) {
	c.logger.Warn("recording deleted during callback",
		zap.String("event", event),
		zap.String("recording_id", rec.ID.String()),
		zap.String("room_id", rec.RoomID))
}

func (c *Coordinator) logConflict(event string, rec *models.Recording, err error) {
	c.logger.Info("ignoring out-of-order callback",
		zap.String("event", event),
		zap.String("recording_id", rec.ID.String()),
		zap.String("status", string(rec.Status)),
		zap.Error(err))
}
