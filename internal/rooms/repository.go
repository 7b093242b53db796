package rooms

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

// Repository mirrors the rooms the pipeline has announced. Rows are written
// from room lifecycle events and read by the recording start path and the
// lock reclamation sweep.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a room repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open upserts the room as open. A room_started event for a room we already
// track reopens it.
func (r *Repository) Open(ctx context.Context, roomID string) error {
	const q = `INSERT INTO rooms (id, status) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, closed_at = NULL, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, roomID, models.RoomOpen)
	return err
}

// Close marks the room closed. Closing an unknown room is a no-op; the
// pipeline may report rooms that predate this instance's database.
func (r *Repository) Close(ctx context.Context, roomID string) error {
	const q = `UPDATE rooms SET status = $2, closed_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, roomID, models.RoomClosed)
	return err
}

// Get returns a room by ID, or nil when it is unknown.
func (r *Repository) Get(ctx context.Context, roomID string) (*models.Room, error) {
	const q = `SELECT id, status, created_at, closed_at, updated_at FROM rooms WHERE id = $1`
	var room models.Room
	err := r.pool.QueryRow(ctx, q, roomID).Scan(&room.ID, &room.Status, &room.CreatedAt, &room.ClosedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// IsOpen reports whether the room is currently live. Unknown and closed
// rooms both answer false: for recording starts and lock reclamation alike,
// a room that is not open might as well not exist.
func (r *Repository) IsOpen(ctx context.Context, roomID string) (bool, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room != nil && room.Status == models.RoomOpen, nil
}
