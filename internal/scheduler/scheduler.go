package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/lock"
)

// Scheduler runs the recurring jobs and the per-room delay timers. Cron jobs
// tick on every instance; a job registered with a dedup TTL first takes a
// shared lock so only one instance does the work each tick. Timers are purely
// in-process; the recurring sweeps are the cross-instance backstop for them.
type Scheduler struct {
	cron   *cron.Cron
	locks  *lock.Manager
	logger *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a scheduler. The lock manager arbitrates cron ticks between
// instances; pass nil to run every tick locally (single-node and tests).
func New(locks *lock.Manager, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(),
		locks:  locks,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Start begins running registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron loop and cancels every pending timer. Jobs already
// mid-tick finish on their own goroutine.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// RegisterCron adds a recurring job. When dedupTTL is positive, each tick
// first acquires the job's shared lock with that TTL and becomes a no-op on
// contention; keep the TTL just under the tick interval so the next tick is
// free to run anywhere. Errors and panics are contained per tick.
func (s *Scheduler) RegisterCron(name, spec string, dedupTTL time.Duration, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runTick(name, dedupTTL, fn)
	})
	if err != nil {
		return err
	}
	s.logger.Info("cron job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) runTick(name string, dedupTTL time.Duration, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cron job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	ctx := context.Background()

	if dedupTTL > 0 && s.locks != nil {
		h, err := s.locks.Acquire(ctx, name, dedupTTL)
		if err != nil {
			s.logger.Warn("cron dedup lock unavailable, skipping tick",
				zap.String("job", name), zap.Error(err))
			return
		}
		if h == nil {
			// another instance owns this tick
			return
		}
	}

	if err := fn(ctx); err != nil {
		s.logger.Error("cron job failed", zap.String("job", name), zap.Error(err))
	}
}

// ScheduleOnce arms a one-shot timer under the given key, replacing any
// timer already armed for it. The returned cancel is equivalent to
// Cancel(key) and safe to call after the timer fired.
func (s *Scheduler) ScheduleOnce(key string, delay time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[key] == t {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("timer callback panicked", zap.String("key", key), zap.Any("panic", r))
			}
		}()
		fn()
	})
	s.timers[key] = t
	return func() { s.Cancel(key) }
}

// Cancel disarms the timer for key. Unknown, already-fired and
// already-cancelled keys are all no-ops.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}
