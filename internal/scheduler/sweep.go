package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

// ExpiredLister finds STARTING records whose confirmation deadline passed.
type ExpiredLister interface {
	ListExpiredStarting(ctx context.Context, now time.Time) ([]models.Recording, error)
}

// TimeoutFailer fails one timed-out recording attempt.
type TimeoutFailer interface {
	FailStartTimeout(ctx context.Context, recordingID uuid.UUID) error
}

// TimeoutSweep fails STARTING records past their deadline. The instance that
// accepted a start arms an in-process timer for this, but that timer dies
// with the instance; the sweep runs everywhere and picks up whatever a
// crashed instance left behind. How stale such a record can get is bounded
// by the sweep interval.
type TimeoutSweep struct {
	store  ExpiredLister
	failer TimeoutFailer
	logger *zap.Logger

	now func() time.Time
}

// NewTimeoutSweep creates the start-timeout sweep job.
func NewTimeoutSweep(store ExpiredLister, failer TimeoutFailer, logger *zap.Logger) *TimeoutSweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeoutSweep{store: store, failer: failer, logger: logger, now: time.Now}
}

// Run fails every expired STARTING record once. Per-record errors are logged
// and the sweep continues.
func (s *TimeoutSweep) Run(ctx context.Context) error {
	expired, err := s.store.ListExpiredStarting(ctx, s.now())
	if err != nil {
		return err
	}
	for _, rec := range expired {
		if err := s.failer.FailStartTimeout(ctx, rec.ID); err != nil {
			s.logger.Warn("timeout sweep could not fail recording",
				zap.String("recording_id", rec.ID.String()),
				zap.String("room_id", rec.RoomID),
				zap.Error(err))
			continue
		}
		s.logger.Info("timed-out recording swept",
			zap.String("recording_id", rec.ID.String()),
			zap.String("room_id", rec.RoomID))
	}
	return nil
}
