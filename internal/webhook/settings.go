package webhook

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/events"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

// settingsChannel carries cache invalidation hints between instances.
const settingsChannel = "meet:webhook-settings"

// SettingsRepo persists the single webhook configuration row.
type SettingsRepo struct {
	pool *pgxpool.Pool
}

// NewSettingsRepo creates a webhook settings repository.
func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// Get returns the stored configuration, or the disabled default when none
// has been saved yet.
func (r *SettingsRepo) Get(ctx context.Context) (models.WebhookSettings, error) {
	const q = `SELECT enabled, COALESCE(url, ''), updated_at FROM webhook_settings WHERE id = 1`
	var s models.WebhookSettings
	err := r.pool.QueryRow(ctx, q).Scan(&s.Enabled, &s.URL, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WebhookSettings{}, nil
	}
	if err != nil {
		return models.WebhookSettings{}, err
	}
	return s, nil
}

// Update upserts the configuration row.
func (r *SettingsRepo) Update(ctx context.Context, enabled bool, url string) (models.WebhookSettings, error) {
	const q = `INSERT INTO webhook_settings (id, enabled, url) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET enabled = EXCLUDED.enabled, url = EXCLUDED.url, updated_at = NOW()
		RETURNING enabled, COALESCE(url, ''), updated_at`
	var s models.WebhookSettings
	err := r.pool.QueryRow(ctx, q, enabled, url).Scan(&s.Enabled, &s.URL, &s.UpdatedAt)
	if err != nil {
		return models.WebhookSettings{}, err
	}
	return s, nil
}

// SettingsStore is the persistence behind the cached settings service.
type SettingsStore interface {
	Get(ctx context.Context) (models.WebhookSettings, error)
	Update(ctx context.Context, enabled bool, url string) (models.WebhookSettings, error)
}

// Settings caches the webhook configuration per instance. Updates publish an
// invalidation message so every instance drops its copy and re-reads the
// store on the next delivery.
type Settings struct {
	repo   SettingsStore
	bus    events.Bus
	logger *zap.Logger

	mu     sync.RWMutex
	cached *models.WebhookSettings
	cancel func()
}

// NewSettings creates the cached settings service.
func NewSettings(repo SettingsStore, bus events.Bus, logger *zap.Logger) *Settings {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settings{repo: repo, bus: bus, logger: logger}
}

// Start subscribes to invalidation messages.
func (s *Settings) Start() error {
	cancel, err := s.bus.Subscribe(settingsChannel, func([]byte) {
		s.mu.Lock()
		s.cached = nil
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}
	s.cancel = cancel
	return nil
}

// Stop ends the invalidation subscription.
func (s *Settings) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Current returns the cached configuration, loading it on first use and
// after each invalidation.
func (s *Settings) Current(ctx context.Context) (models.WebhookSettings, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	loaded, err := s.repo.Get(ctx)
	if err != nil {
		return models.WebhookSettings{}, err
	}
	s.mu.Lock()
	s.cached = &loaded
	s.mu.Unlock()
	return loaded, nil
}

// Update persists new configuration and tells the other instances to drop
// their caches. A failed publish leaves them serving the old value until
// their next restart, so it is logged loudly.
func (s *Settings) Update(ctx context.Context, enabled bool, url string) (models.WebhookSettings, error) {
	updated, err := s.repo.Update(ctx, enabled, url)
	if err != nil {
		return models.WebhookSettings{}, err
	}
	s.mu.Lock()
	s.cached = &updated
	s.mu.Unlock()
	if err := s.bus.Publish(ctx, settingsChannel, []byte("updated")); err != nil {
		s.logger.Error("publish webhook settings invalidation failed", zap.Error(err))
	}
	return updated, nil
}
