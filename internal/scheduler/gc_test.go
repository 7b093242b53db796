package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/lock"
)

type fakeRooms struct {
	open map[string]bool
	errs map[string]error
}

func (f *fakeRooms) IsOpen(ctx context.Context, roomID string) (bool, error) {
	if err := f.errs[roomID]; err != nil {
		return false, err
	}
	return f.open[roomID], nil
}

type fakeExports struct {
	active map[string]bool
	errs   map[string]error
}

func (f *fakeExports) HasActiveExport(ctx context.Context, roomID string) (bool, error) {
	if err := f.errs[roomID]; err != nil {
		return false, err
	}
	return f.active[roomID], nil
}

func TestGCReleaseTable(t *testing.T) {
	tests := []struct {
		name       string
		roomOpen   bool
		exportLive bool
		wantHeld   bool
	}{
		{"room gone, no export", false, false, false},
		{"room gone, export active", false, true, true},
		{"room open, no export", true, false, true},
		{"room open, export active", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			locks := lock.NewManager(lock.NewMemoryStore(), "room:", nil)
			if h, _ := locks.Acquire(ctx, "r1", time.Hour); h == nil {
				t.Fatal("setup acquire failed")
			}

			gc := NewGC(locks,
				&fakeRooms{open: map[string]bool{"r1": tt.roomOpen}},
				&fakeExports{active: map[string]bool{"r1": tt.exportLive}},
				nil)
			if err := gc.Run(ctx); err != nil {
				t.Fatalf("Run: %v", err)
			}

			held, _ := locks.IsHeld(ctx, "r1")
			if held != tt.wantHeld {
				t.Fatalf("held = %v, want %v", held, tt.wantHeld)
			}
		})
	}
}

func TestGCOneBadLockDoesNotAbortSweep(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewManager(lock.NewMemoryStore(), "room:", nil)
	locks.Acquire(ctx, "broken", time.Hour)
	locks.Acquire(ctx, "orphan", time.Hour)

	gc := NewGC(locks,
		&fakeRooms{open: map[string]bool{}},
		&fakeExports{active: map[string]bool{}, errs: map[string]error{"broken": errors.New("pipeline down")}},
		nil)
	if err := gc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if held, _ := locks.IsHeld(ctx, "broken"); !held {
		t.Error("lock with a failing check was released")
	}
	if held, _ := locks.IsHeld(ctx, "orphan"); held {
		t.Error("orphaned lock survived the sweep")
	}
}

func TestGCIdempotentOnCleanSystem(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewManager(lock.NewMemoryStore(), "room:", nil)
	locks.Acquire(ctx, "r1", time.Hour)

	gc := NewGC(locks,
		&fakeRooms{open: map[string]bool{"r1": true}},
		&fakeExports{active: map[string]bool{"r1": true}},
		nil)

	for i := 0; i < 2; i++ {
		if err := gc.Run(ctx); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
		if held, _ := locks.IsHeld(ctx, "r1"); !held {
			t.Fatalf("Run #%d released a healthy lock", i+1)
		}
	}
}
