package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/advicelink/sessiond/internal/hub"
	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/policy"
	"github.com/advicelink/sessiond/internal/reservations"
	"github.com/advicelink/sessiond/internal/session"
	memorystore "github.com/advicelink/sessiond/internal/store/memory"
)

type fakeReservations struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Reservation
}

func (f *fakeReservations) add(r *models.Reservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[r.ReservationID] = r
}

func (f *fakeReservations) GetReservation(_ context.Context, id uuid.UUID) (*models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", reservations.ErrNotFound, id)
	}
	return r, nil
}

type gatewayFixture struct {
	e            *echo.Echo
	reservations *fakeReservations
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	res := &fakeReservations{byID: make(map[uuid.UUID]*models.Reservation)}
	manager := session.NewManager(context.Background(), session.ManagerConfig{
		Policy:       policy.Default(),
		Store:        memorystore.NewSessionStore(),
		Reservations: res,
	})
	t.Cleanup(manager.Shutdown)

	wsHub := hub.New()
	go wsHub.Run()
	t.Cleanup(wsHub.Close)

	e := echo.New()
	NewHandler(manager, wsHub, "test").RegisterRoutes(e)

	return &gatewayFixture{e: e, reservations: res}
}

// reservation registers a confirmed booking offset from the current time.
// An offset inside the preflight window yields a PRE_SESSION session as soon
// as its coordinator starts.
func (f *gatewayFixture) reservation(offset time.Duration, medium models.Medium) *models.Reservation {
	start := time.Now().Add(offset)
	r := &models.Reservation{
		ReservationRef: models.ReservationRef{
			ReservationID:  uuid.Must(uuid.NewV7()),
			ExpertID:       uuid.Must(uuid.NewV7()),
			ClientID:       uuid.Must(uuid.NewV7()),
			ScheduledStart: start,
			ScheduledEnd:   start.Add(time.Hour),
			Medium:         medium,
		},
		Status: models.ReservationConfirmed,
	}
	f.reservations.add(r)
	return r
}

func (f *gatewayFixture) request(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func (f *gatewayFixture) createSession(t *testing.T, r *models.Reservation) string {
	t.Helper()
	rec, body := f.request(t, http.MethodPost, "/v1/sessions",
		fmt.Sprintf(`{"reservationId":%q}`, r.ReservationID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["sessionId"].(string)
}

func TestHealthz(t *testing.T) {
	f := newGatewayFixture(t)

	rec, body := f.request(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "test", body["version"])
}

func TestCreateSessionEndpoint(t *testing.T) {
	t.Run("creates from a confirmed reservation", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(time.Hour, models.MediumVideo)

		rec, body := f.request(t, http.MethodPost, "/v1/sessions",
			fmt.Sprintf(`{"reservationId":%q}`, r.ReservationID))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.Equal(t, string(models.StatusScheduled), body["status"])
		require.True(t, strings.HasPrefix(body["displayId"].(string), "CS-"))
		require.Equal(t, string(models.MediumVideo), body["medium"])
	})

	t.Run("missing reservation id", func(t *testing.T) {
		f := newGatewayFixture(t)
		rec, _ := f.request(t, http.MethodPost, "/v1/sessions", `{}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		f := newGatewayFixture(t)
		rec, body := f.request(t, http.MethodPost, "/v1/sessions",
			fmt.Sprintf(`{"reservationId":%q}`, uuid.Must(uuid.NewV7())))
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "reservation_not_found", body["code"])
	})

	t.Run("unconfirmed reservation", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(time.Hour, models.MediumVideo)
		r.Status = models.ReservationPending

		rec, body := f.request(t, http.MethodPost, "/v1/sessions",
			fmt.Sprintf(`{"reservationId":%q}`, r.ReservationID))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.Equal(t, "reservation_not_confirmed", body["code"])
	})

	t.Run("duplicate reservation", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(time.Hour, models.MediumVideo)
		f.createSession(t, r)

		rec, body := f.request(t, http.MethodPost, "/v1/sessions",
			fmt.Sprintf(`{"reservationId":%q}`, r.ReservationID))
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "duplicate_session", body["code"])
	})
}

func TestGetSessionEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	r := f.reservation(time.Hour, models.MediumVoice)
	id := f.createSession(t, r)

	rec, body := f.request(t, http.MethodGet, "/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, id, body["sessionId"])
	require.Equal(t, string(models.PhaseWait), body["phase"])

	rec, body = f.request(t, http.MethodGet, "/v1/sessions/"+uuid.Must(uuid.NewV7()).String(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", body["code"])

	rec, _ = f.request(t, http.MethodGet, "/v1/sessions/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectEndpoint(t *testing.T) {
	t.Run("connect joins the waiting room", func(t *testing.T) {
		f := newGatewayFixture(t)
		// Inside the preflight window, so the session is accepting connects.
		r := f.reservation(10*time.Minute, models.MediumVideo)
		id := f.createSession(t, r)

		rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/connect", `{"role":"expert"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, string(models.StatusWaitingRoom), body["status"])
		expert := body["expert"].(map[string]any)
		require.Equal(t, true, expert["online"])
	})

	t.Run("connect before the preflight window conflicts", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(time.Hour, models.MediumVideo)
		id := f.createSession(t, r)

		rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/connect", `{"role":"expert"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "invalid_transition", body["code"])
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(10*time.Minute, models.MediumVideo)
		id := f.createSession(t, r)

		rec, _ := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/connect", `{"role":"moderator"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReadinessEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	r := f.reservation(10*time.Minute, models.MediumVideo)
	id := f.createSession(t, r)

	rec, _ := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/connect", `{"role":"expert"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Ready without working devices is rejected for a video session.
	rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/ready", `{"role":"expert","ready":true}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "not_eligible", body["code"])

	rec, body = f.request(t, http.MethodPost, "/v1/sessions/"+id+"/device-status",
		`{"role":"expert","camera":true,"microphone":true,"label":"Built-in"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	devices := body["expert"].(map[string]any)["devices"].(map[string]any)
	require.Equal(t, true, devices["camera"])
	require.Equal(t, true, devices["microphone"])

	rec, body = f.request(t, http.MethodPost, "/v1/sessions/"+id+"/ready", `{"role":"expert","ready":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, body["expert"].(map[string]any)["ready"])
}

func TestNetworkEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	r := f.reservation(10*time.Minute, models.MediumVideo)
	id := f.createSession(t, r)

	rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/network",
		`{"role":"client","quality":"good","roundTripMs":140}`)
	require.Equal(t, http.StatusOK, rec.Code)
	network := body["client"].(map[string]any)["network"].(map[string]any)
	require.Equal(t, "good", network["quality"])
	require.Equal(t, float64(140), network["roundTripMs"])
}

func TestEarlyStartEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	r := f.reservation(10*time.Minute, models.MediumChat)
	id := f.createSession(t, r)

	rec, _ := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/connect", `{"role":"expert"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Only one side is present and ready: the early start is refused.
	rec, _ = f.request(t, http.MethodPost, "/v1/sessions/"+id+"/ready", `{"role":"expert","ready":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/start-early", `{"role":"expert"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "not_eligible", body["code"])
}

func TestEndSessionEndpoint(t *testing.T) {
	t.Run("cancelling records a role-derived reason", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(10*time.Minute, models.MediumVideo)
		id := f.createSession(t, r)

		rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/end", `{"role":"client"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, string(models.StatusCancelled), body["status"])
		require.Equal(t, "client_request", body["cancelReason"])
	})

	t.Run("explicit reason wins", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(10*time.Minute, models.MediumVideo)
		id := f.createSession(t, r)

		rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/end",
			`{"role":"expert","reason":"admin_request"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "admin_request", body["cancelReason"])
	})

	t.Run("commands after the end are gone", func(t *testing.T) {
		f := newGatewayFixture(t)
		r := f.reservation(10*time.Minute, models.MediumVideo)
		id := f.createSession(t, r)

		rec, _ := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/end", `{}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body := f.request(t, http.MethodPost, "/v1/sessions/"+id+"/connect", `{"role":"expert"}`)
		require.Equal(t, http.StatusGone, rec.Code)
		require.Equal(t, "session_closed", body["code"])
	})
}
