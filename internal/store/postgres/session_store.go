package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/store"
)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

// Create inserts a new session row. One session per reservation is enforced
// by the unique constraint on reservation_id.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			session_id, display_id, reservation_id,
			expert_id, client_id,
			scheduled_start, scheduled_end, medium,
			status, actual_start, actual_end, cancel_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := s.pool.Exec(ctx, query,
		session.SessionID,
		session.DisplayID,
		session.Reservation.ReservationID,
		session.Reservation.ExpertID,
		session.Reservation.ClientID,
		session.Reservation.ScheduledStart,
		session.Reservation.ScheduledEnd,
		string(session.Reservation.Medium),
		string(session.Status),
		session.ActualStart,
		session.ActualEnd,
		session.CancelReason,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("reservation_id", session.Reservation.ReservationID.String()).
		Msg("Created session")

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `
		SELECT
			session_id, display_id, reservation_id,
			expert_id, client_id,
			scheduled_start, scheduled_end, medium,
			status, actual_start, actual_end, cancel_reason,
			created_at, updated_at
		FROM sessions
		WHERE session_id = $1
	`

	session, err := scanSession(s.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, mapPostgresError(err)
	}

	return session, nil
}

// UpdateLifecycle writes the durable fields changed by a transition.
func (s *SessionStore) UpdateLifecycle(ctx context.Context, sessionID uuid.UUID, update store.LifecycleUpdate) error {
	query := `
		UPDATE sessions
		SET status = $2, actual_start = $3, actual_end = $4,
		    cancel_reason = $5, updated_at = $6
		WHERE session_id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		sessionID,
		string(update.Status),
		update.ActualStart,
		update.ActualEnd,
		update.CancelReason,
		time.Now(),
	)
	if err != nil {
		return mapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}

// ListResumable returns all non-terminal sessions.
func (s *SessionStore) ListResumable(ctx context.Context) ([]*models.Session, error) {
	query := `
		SELECT
			session_id, display_id, reservation_id,
			expert_id, client_id,
			scheduled_start, scheduled_end, medium,
			status, actual_start, actual_end, cancel_reason,
			created_at, updated_at
		FROM sessions
		WHERE status NOT IN ('COMPLETED', 'CANCELLED', 'EXPIRED')
		ORDER BY scheduled_start
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}

	return sessions, nil
}

// Delete removes an archived session.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return mapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Msg("Deleted session")

	return nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	var medium, status string

	err := row.Scan(
		&session.SessionID,
		&session.DisplayID,
		&session.Reservation.ReservationID,
		&session.Reservation.ExpertID,
		&session.Reservation.ClientID,
		&session.Reservation.ScheduledStart,
		&session.Reservation.ScheduledEnd,
		&medium,
		&status,
		&session.ActualStart,
		&session.ActualEnd,
		&session.CancelReason,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Reservation.Medium = models.Medium(medium)
	session.Status = models.Status(status)
	return &session, nil
}
