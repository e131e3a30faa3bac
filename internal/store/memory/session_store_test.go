package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/store"
)

func newTestSession() *models.Session {
	sessionID := uuid.Must(uuid.NewV7())
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return &models.Session{
		SessionID: sessionID,
		DisplayID: models.NewDisplayID(sessionID),
		Reservation: models.ReservationRef{
			ReservationID:  uuid.Must(uuid.NewV7()),
			ExpertID:       uuid.Must(uuid.NewV7()),
			ClientID:       uuid.Must(uuid.NewV7()),
			ScheduledStart: start,
			ScheduledEnd:   start.Add(time.Hour),
			Medium:         models.MediumVideo,
		},
		Status:    models.StatusScheduled,
		CreatedAt: start.Add(-24 * time.Hour),
		UpdatedAt: start.Add(-24 * time.Hour),
	}
}

func TestSessionStoreCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		st := NewSessionStore()
		sess := newTestSession()
		require.NoError(t, st.Create(ctx, sess))

		got, err := st.Get(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Equal(t, sess.SessionID, got.SessionID)
		require.Equal(t, sess.DisplayID, got.DisplayID)
		require.Equal(t, models.StatusScheduled, got.Status)
	})

	t.Run("one session per reservation", func(t *testing.T) {
		st := NewSessionStore()
		sess := newTestSession()
		require.NoError(t, st.Create(ctx, sess))

		dup := newTestSession()
		dup.Reservation.ReservationID = sess.Reservation.ReservationID
		err := st.Create(ctx, dup)
		require.ErrorIs(t, err, store.ErrDuplicateSession)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		st := NewSessionStore()
		sess := newTestSession()
		require.NoError(t, st.Create(ctx, sess))

		got, err := st.Get(ctx, sess.SessionID)
		require.NoError(t, err)
		got.Status = models.StatusCancelled

		again, err := st.Get(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Equal(t, models.StatusScheduled, again.Status)
	})

	t.Run("unknown session", func(t *testing.T) {
		st := NewSessionStore()
		_, err := st.Get(ctx, uuid.Must(uuid.NewV7()))
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})
}

func TestSessionStoreUpdateLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()
	sess := newTestSession()
	require.NoError(t, st.Create(ctx, sess))

	started := sess.Reservation.ScheduledStart
	ended := started.Add(45 * time.Minute)
	err := st.UpdateLifecycle(ctx, sess.SessionID, store.LifecycleUpdate{
		Status:      models.StatusCompleted,
		ActualStart: &started,
		ActualEnd:   &ended,
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.ActualStart)
	require.Equal(t, started, *got.ActualStart)
	require.NotNil(t, got.ActualEnd)
	require.Equal(t, 45, got.DurationMinutes())

	err = st.UpdateLifecycle(ctx, uuid.Must(uuid.NewV7()), store.LifecycleUpdate{Status: models.StatusCancelled})
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestSessionStoreListResumable(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()

	live := newTestSession()
	live.Status = models.StatusWaitingRoom
	require.NoError(t, st.Create(ctx, live))

	done := newTestSession()
	done.Status = models.StatusCompleted
	require.NoError(t, st.Create(ctx, done))

	cancelled := newTestSession()
	cancelled.Status = models.StatusCancelled
	require.NoError(t, st.Create(ctx, cancelled))

	out, err := st.ListResumable(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, live.SessionID, out[0].SessionID)
}

func TestSessionStoreDelete(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()
	sess := newTestSession()
	require.NoError(t, st.Create(ctx, sess))

	require.NoError(t, st.Delete(ctx, sess.SessionID))
	_, err := st.Get(ctx, sess.SessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	// Deleting frees the reservation for a fresh session.
	fresh := newTestSession()
	fresh.Reservation.ReservationID = sess.Reservation.ReservationID
	require.NoError(t, st.Create(ctx, fresh))

	err = st.Delete(ctx, sess.SessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}
