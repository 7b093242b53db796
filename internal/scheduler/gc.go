package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/lock"
)

// RoomExistence answers whether a room is still live. Closed and unknown
// rooms both count as gone for reclamation.
type RoomExistence interface {
	IsOpen(ctx context.Context, roomID string) (bool, error)
}

// ExportCheck asks the pipeline whether a room currently has a live export.
type ExportCheck interface {
	HasActiveExport(ctx context.Context, roomID string) (bool, error)
}

// GC reclaims room locks whose holder crashed without releasing them. A lock
// is orphaned only when its room is gone and the pipeline reports no live
// export for it; either signal on its own can be a recording that is still
// coming up.
type GC struct {
	locks    *lock.Manager
	rooms    RoomExistence
	pipeline ExportCheck
	logger   *zap.Logger
}

// NewGC creates the lock reclamation job.
func NewGC(locks *lock.Manager, rooms RoomExistence, pipeline ExportCheck, logger *zap.Logger) *GC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GC{locks: locks, rooms: rooms, pipeline: pipeline, logger: logger}
}

// Run scans every held room lock once. Errors on one lock are logged and the
// scan moves on; only a failure to list the locks at all aborts the sweep.
func (g *GC) Run(ctx context.Context) error {
	held, err := g.locks.HeldLocks(ctx)
	if err != nil {
		return err
	}
	released := 0
	for _, h := range held {
		orphaned, err := g.isOrphaned(ctx, h.Key)
		if err != nil {
			g.logger.Warn("lock reclamation check failed", zap.String("room_id", h.Key), zap.Error(err))
			continue
		}
		if !orphaned {
			continue
		}
		if err := g.locks.ReleaseKey(ctx, h.Key); err != nil {
			g.logger.Warn("orphaned lock release failed", zap.String("room_id", h.Key), zap.Error(err))
			continue
		}
		g.logger.Info("released orphaned room lock", zap.String("room_id", h.Key))
		released++
	}
	if released > 0 || len(held) > 0 {
		g.logger.Info("lock reclamation sweep done",
			zap.Int("held", len(held)),
			zap.Int("released", released))
	}
	return nil
}

// isOrphaned holds iff the room no longer exists and the pipeline has no
// live export for it. A confirmed active export always keeps the lock, even
// when the room row is missing.
func (g *GC) isOrphaned(ctx context.Context, roomID string) (bool, error) {
	active, err := g.pipeline.HasActiveExport(ctx, roomID)
	if err != nil {
		return false, err
	}
	if active {
		return false, nil
	}
	open, err := g.rooms.IsOpen(ctx, roomID)
	if err != nil {
		return false, err
	}
	return !open, nil
}
