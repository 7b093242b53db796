package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

// Store is the durable source of truth for recording records. Lookups return
// (nil, nil) when no record matches; a non-nil error always means the store
// itself failed.
type Store interface {
	Create(ctx context.Context, rec *models.Recording) error
	Get(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	GetByExportID(ctx context.Context, exportID string) (*models.Recording, error)
	// FindActiveByRoom returns the room's non-terminal record, if any. This
	// is the authority consulted before starting a new recording; the room
	// lock alone is not, because it may expire while a record is still live.
	FindActiveByRoom(ctx context.Context, roomID string) (*models.Recording, error)
	ListByRoom(ctx context.Context, roomID string) ([]models.Recording, error)
	// Transition moves the record to the given status iff its current
	// status allows it, atomically. Terminal statuses also set ended_at.
	// An out-of-order transition returns ErrInvalidTransition and leaves
	// the record unchanged; a record deleted out from under the update
	// returns (nil, nil).
	Transition(ctx context.Context, id uuid.UUID, to models.RecordingStatus, errMsg *string) (*models.Recording, error)
	// TransitionFrom is Transition restricted to a single source status,
	// for callers that must not fire from any other state.
	TransitionFrom(ctx context.Context, id uuid.UUID, from, to models.RecordingStatus, errMsg *string) (*models.Recording, error)
	// Delete removes a record. Callers must only delete terminal records.
	Delete(ctx context.Context, id uuid.UUID) error
}

const recordingColumns = `id, room_id, export_id, status, started_at, ended_at, start_timeout_at,
	artifact_key, size_bytes, duration_seconds, error_message, created_at, updated_at`

var nonTerminalStatuses = []string{
	string(models.RecordingStarting),
	string(models.RecordingActive),
	string(models.RecordingEnding),
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed recording store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.RoomID, &rec.ExportID, &rec.Status, &rec.StartedAt, &rec.EndedAt,
		&rec.StartTimeoutAt, &rec.ArtifactKey, &rec.SizeBytes, &rec.DurationSeconds, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new record and fills its generated fields.
func (s *PostgresStore) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (id, room_id, export_id, status, started_at, start_timeout_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return s.pool.QueryRow(ctx, q, rec.RoomID, rec.ExportID, string(rec.Status), rec.StartedAt, rec.StartTimeoutAt).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// Get returns a record by ID.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	rec, err := scanRecording(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// GetByExportID returns the record tracking the given pipeline export.
func (s *PostgresStore) GetByExportID(ctx context.Context, exportID string) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE export_id = $1 ORDER BY created_at DESC LIMIT 1`
	rec, err := scanRecording(s.pool.QueryRow(ctx, q, exportID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// FindActiveByRoom returns the room's non-terminal record, if any.
func (s *PostgresStore) FindActiveByRoom(ctx context.Context, roomID string) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings
		WHERE room_id = $1 AND status = ANY($2) ORDER BY started_at DESC LIMIT 1`
	rec, err := scanRecording(s.pool.QueryRow(ctx, q, roomID, nonTerminalStatuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListByRoom returns all of a room's records, newest first.
func (s *PostgresStore) ListByRoom(ctx context.Context, roomID string) ([]models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE room_id = $1 ORDER BY started_at DESC`
	rows, err := s.pool.Query(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

const qTransition = `UPDATE recordings
	SET status = $2,
	    ended_at = CASE WHEN $3::boolean THEN NOW() ELSE ended_at END,
	    error_message = COALESCE($4, error_message),
	    updated_at = NOW()
	WHERE id = $1 AND status = ANY($5)
	RETURNING ` + recordingColumns

func (s *PostgresStore) transition(ctx context.Context, id uuid.UUID, sources []string, to models.RecordingStatus, errMsg *string) (*models.Recording, error) {
	rec, err := scanRecording(s.pool.QueryRow(ctx, qTransition, id, string(to), to.IsTerminal(), errMsg, sources))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// no row matched: unknown id or a status outside sources
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("transition to %s from %s: %w", to, cur.Status, ErrInvalidTransition)
}

// Transition moves the record to the given status from any status the
// lifecycle table allows.
func (s *PostgresStore) Transition(ctx context.Context, id uuid.UUID, to models.RecordingStatus, errMsg *string) (*models.Recording, error) {
	sources := models.TransitionSources(to)
	if len(sources) == 0 {
		return nil, fmt.Errorf("transition to %s: %w", to, ErrInvalidTransition)
	}
	return s.transition(ctx, id, statusStrings(sources), to, errMsg)
}

// TransitionFrom moves the record to the given status only when it currently
// sits in the single expected source status.
func (s *PostgresStore) TransitionFrom(ctx context.Context, id uuid.UUID, from, to models.RecordingStatus, errMsg *string) (*models.Recording, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("transition %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return s.transition(ctx, id, []string{string(from)}, to, errMsg)
}

// ListExpiredStarting returns STARTING records whose start timeout passed.
// The sweep fails them in case the instance owning their in-process timer
// died before it could fire.
func (s *PostgresStore) ListExpiredStarting(ctx context.Context, now time.Time) ([]models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings
		WHERE status = $1 AND start_timeout_at <= $2 ORDER BY start_timeout_at`
	rows, err := s.pool.Query(ctx, q, string(models.RecordingStarting), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM recordings WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	return err
}

// SetArtifact fills the artifact metadata gathered after export completion.
func (s *PostgresStore) SetArtifact(ctx context.Context, id uuid.UUID, key string, sizeBytes int64, durationSeconds *float64) error {
	const q = `UPDATE recordings SET artifact_key = $2, size_bytes = $3, duration_seconds = $4, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, key, sizeBytes, durationSeconds)
	return err
}

func statusStrings(statuses []models.RecordingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
