// Package gateway exposes the session coordinator to participants over HTTP
// and websocket. Every mutating call returns the resulting session snapshot,
// and the same snapshot is broadcast to all connected clients on every state
// change, so both parties converge on one view without polling.
package gateway

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/hub"
	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/reservations"
	"github.com/advicelink/sessiond/internal/session"
	"github.com/advicelink/sessiond/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	manager *session.Manager
	hub     *hub.Hub
	version string
}

// NewHandler creates a new handler.
func NewHandler(manager *session.Manager, h *hub.Hub, version string) *Handler {
	return &Handler{
		manager: manager,
		hub:     h,
		version: version,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.POST("/v1/sessions/:session_id/connect", h.Connect)
	e.POST("/v1/sessions/:session_id/disconnect", h.Disconnect)
	e.POST("/v1/sessions/:session_id/device-status", h.SubmitDeviceStatus)
	e.POST("/v1/sessions/:session_id/network", h.SubmitNetworkQuality)
	e.POST("/v1/sessions/:session_id/ready", h.SubmitReadiness)
	e.POST("/v1/sessions/:session_id/start-early", h.RequestEarlyStart)
	e.POST("/v1/sessions/:session_id/end", h.EndSession)
	e.GET("/v1/sessions/:session_id/ws", h.Subscribe)

	// Doubles as the network probe target for preflight RTT measurement.
	e.GET("/healthz", h.Health)
	e.HEAD("/healthz", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

type createSessionRequest struct {
	ReservationID uuid.UUID `json:"reservationId"`
}

// CreateSession admits a confirmed reservation into the coordinator.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ReservationID == uuid.Nil {
		return badRequest(c, "reservationId is required")
	}

	snap, err := h.manager.CreateSession(c.Request().Context(), req.ReservationID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, snap)
}

// GetSession returns the current snapshot.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return h.writeError(c, err)
	}
	snap, err := coord.Snapshot(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type roleRequest struct {
	Role models.Role `json:"role"`
}

// Connect marks a participant online.
// POST /v1/sessions/:session_id/connect
func (h *Handler) Connect(c echo.Context) error {
	coord, role, err := h.coordinatorAndRole(c)
	if err != nil {
		return h.writeError(c, err)
	}
	snap, err := coord.Connect(c.Request().Context(), role)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Disconnect marks a participant offline.
// POST /v1/sessions/:session_id/disconnect
func (h *Handler) Disconnect(c echo.Context) error {
	coord, role, err := h.coordinatorAndRole(c)
	if err != nil {
		return h.writeError(c, err)
	}
	snap, err := coord.Disconnect(c.Request().Context(), role)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type deviceStatusRequest struct {
	Role        models.Role         `json:"role"`
	Camera      *bool               `json:"camera,omitempty"`
	Microphone  *bool               `json:"microphone,omitempty"`
	Speaker     *bool               `json:"speaker,omitempty"`
	Permissions *models.Permissions `json:"permissions,omitempty"`
	Label       string              `json:"label,omitempty"`
}

// SubmitDeviceStatus merges a preflight device report.
// POST /v1/sessions/:session_id/device-status
func (h *Handler) SubmitDeviceStatus(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return h.writeError(c, err)
	}

	var req deviceStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !req.Role.Valid() {
		return badRequest(c, "unknown role")
	}

	snap, err := coord.SubmitDeviceStatus(c.Request().Context(), req.Role, session.DeviceReport{
		Camera:      req.Camera,
		Microphone:  req.Microphone,
		Speaker:     req.Speaker,
		Permissions: req.Permissions,
		Label:       req.Label,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type networkRequest struct {
	Role        models.Role       `json:"role"`
	Quality     models.NetQuality `json:"quality"`
	RoundTripMs int               `json:"roundTripMs"`
}

// SubmitNetworkQuality records a network probe result.
// POST /v1/sessions/:session_id/network
func (h *Handler) SubmitNetworkQuality(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return h.writeError(c, err)
	}

	var req networkRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !req.Role.Valid() {
		return badRequest(c, "unknown role")
	}

	snap, err := coord.SubmitNetworkQuality(c.Request().Context(), req.Role, models.NetworkQuality{
		Quality:     req.Quality,
		RoundTripMs: req.RoundTripMs,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type readinessRequest struct {
	Role  models.Role `json:"role"`
	Ready bool        `json:"ready"`
}

// SubmitReadiness records the explicit ready declaration.
// POST /v1/sessions/:session_id/ready
func (h *Handler) SubmitReadiness(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return h.writeError(c, err)
	}

	var req readinessRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !req.Role.Valid() {
		return badRequest(c, "unknown role")
	}

	snap, err := coord.SubmitReadiness(c.Request().Context(), req.Role, req.Ready)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// RequestEarlyStart asks for a manual start inside the early window.
// POST /v1/sessions/:session_id/start-early
func (h *Handler) RequestEarlyStart(c echo.Context) error {
	coord, role, err := h.coordinatorAndRole(c)
	if err != nil {
		return h.writeError(c, err)
	}
	snap, err := coord.RequestEarlyStart(c.Request().Context(), role)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type endSessionRequest struct {
	Role   models.Role `json:"role"`
	Reason string      `json:"reason,omitempty"`
}

// EndSession finishes or cancels the session explicitly.
// POST /v1/sessions/:session_id/end
func (h *Handler) EndSession(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return h.writeError(c, err)
	}

	var req endSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	reason := req.Reason
	if reason == "" {
		switch req.Role {
		case models.RoleExpert:
			reason = "expert_request"
		case models.RoleClient:
			reason = "client_request"
		default:
			reason = session.ReasonAdminRequest
		}
	}

	snap, err := coord.End(c.Request().Context(), reason)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) coordinator(c echo.Context) (*session.Coordinator, error) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return h.manager.Coordinator(sessionID)
}

func (h *Handler) coordinatorAndRole(c echo.Context) (*session.Coordinator, models.Role, error) {
	coord, err := h.coordinator(c)
	if err != nil {
		return nil, "", err
	}

	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Role.Valid() {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "unknown role")
	}
	return coord, req.Role, nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP statuses. Coordinator rejections
// are ordinary responses, never 5xx: the session is fine, the command wasn't.
func (h *Handler) writeError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return c.JSON(httpErr.Code, map[string]any{"error": httpErr.Message})
	}

	var transition *session.InvalidTransitionError
	switch {
	case errors.As(err, &transition):
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  transition.Error(),
			"code":   "invalid_transition",
			"status": transition.Status,
		})
	case errors.Is(err, session.ErrNotEligible):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"code":  "not_eligible",
		})
	case errors.Is(err, session.ErrSessionClosed):
		return c.JSON(http.StatusGone, map[string]string{
			"error": "session ended",
			"code":  "session_closed",
		})
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, store.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "session not found",
			"code":  "not_found",
		})
	case errors.Is(err, store.ErrDuplicateSession):
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "session already exists for reservation",
			"code":  "duplicate_session",
		})
	case errors.Is(err, reservations.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "reservation not found",
			"code":  "reservation_not_found",
		})
	case errors.Is(err, session.ErrReservationNotConfirmed):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"code":  "reservation_not_confirmed",
		})
	case errors.Is(err, session.ErrUnknownRole):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"code":  "unknown_role",
		})
	default:
		log.Error().Err(err).Msg("gateway request failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}
}
