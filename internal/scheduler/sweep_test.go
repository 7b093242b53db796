package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

type fakeExpiredLister struct {
	expired []models.Recording
	err     error
}

func (f *fakeExpiredLister) ListExpiredStarting(ctx context.Context, now time.Time) ([]models.Recording, error) {
	return f.expired, f.err
}

type fakeFailer struct {
	failed []uuid.UUID
	errs   map[uuid.UUID]error
}

func (f *fakeFailer) FailStartTimeout(ctx context.Context, id uuid.UUID) error {
	if err := f.errs[id]; err != nil {
		return err
	}
	f.failed = append(f.failed, id)
	return nil
}

func TestSweepFailsExpiredRecords(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	lister := &fakeExpiredLister{expired: []models.Recording{
		{ID: a, RoomID: "r1", Status: models.RecordingStarting},
		{ID: b, RoomID: "r2", Status: models.RecordingStarting},
	}}
	failer := &fakeFailer{}

	sweep := NewTimeoutSweep(lister, failer, nil)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(failer.failed) != 2 {
		t.Fatalf("failed %d records, want 2", len(failer.failed))
	}
}

func TestSweepNothingExpired(t *testing.T) {
	failer := &fakeFailer{}
	sweep := NewTimeoutSweep(&fakeExpiredLister{}, failer, nil)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(failer.failed) != 0 {
		t.Fatalf("failed %d records, want 0", len(failer.failed))
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	lister := &fakeExpiredLister{expired: []models.Recording{
		{ID: a, RoomID: "r1", Status: models.RecordingStarting},
		{ID: b, RoomID: "r2", Status: models.RecordingStarting},
	}}
	failer := &fakeFailer{errs: map[uuid.UUID]error{a: errors.New("store down")}}

	sweep := NewTimeoutSweep(lister, failer, nil)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(failer.failed) != 1 || failer.failed[0] != b {
		t.Fatalf("failed = %v, want just %v", failer.failed, b)
	}
}

func TestSweepPropagatesListError(t *testing.T) {
	sweep := NewTimeoutSweep(&fakeExpiredLister{err: errors.New("store down")}, &fakeFailer{}, nil)
	if err := sweep.Run(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}
