package apikeys

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists provisioned API keys. The oldest key doubles as the
// webhook signing secret, so every deployment must end up with at least one.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates an API key repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// EnsureProvisioned makes sure one key exists. When the table is empty it
// inserts the configured initial key, or a generated one if none was
// configured. Concurrent instances may race here; the losing insert is a
// no-op and both end up reading the same first key.
func (r *Repository) EnsureProvisioned(ctx context.Context, initial string) error {
	key, err := r.SigningKey(ctx)
	if err != nil {
		return err
	}
	if key != "" {
		return nil
	}
	if initial == "" {
		initial = "meet-" + uuid.NewString()
		r.logger.Info("no initial API key configured, generated one")
	}
	const q = `INSERT INTO api_keys (id, key) VALUES (gen_random_uuid(), $1) ON CONFLICT (key) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, initial); err != nil {
		return fmt.Errorf("provision api key: %w", err)
	}
	return nil
}

// SigningKey returns the oldest provisioned key, or "" when none exists yet.
func (r *Repository) SigningKey(ctx context.Context) (string, error) {
	const q = `SELECT key FROM api_keys ORDER BY created_at, id LIMIT 1`
	var key string
	err := r.pool.QueryRow(ctx, q).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key, nil
}
