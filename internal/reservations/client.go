// Package reservations is the read-only client for the reservation service.
// The coordinator only ever looks bookings up; creation, approval and payment
// live elsewhere.
package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/advicelink/sessiond/internal/models"
)

// ErrNotFound is returned when the reservation service has no such booking.
var ErrNotFound = errors.New("reservation not found")

// Client calls the reservation service's lookup endpoint.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type reservationResponse struct {
	ReservationID  uuid.UUID                `json:"reservationId"`
	ExpertID       uuid.UUID                `json:"expertId"`
	ClientID       uuid.UUID                `json:"clientId"`
	ScheduledStart time.Time                `json:"scheduledStart"`
	ScheduledEnd   time.Time                `json:"scheduledEnd"`
	Medium         models.Medium            `json:"medium"`
	Status         models.ReservationStatus `json:"status"`
}

// GetReservation fetches one reservation by id.
func (c *Client) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error) {
	url := fmt.Sprintf("%s/v1/reservations/%s", c.baseURL, reservationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reservation request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reservation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reservationID)
	default:
		return nil, fmt.Errorf("reservation service returned %d", resp.StatusCode)
	}

	var body reservationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode reservation response: %w", err)
	}

	return &models.Reservation{
		ReservationRef: models.ReservationRef{
			ReservationID:  body.ReservationID,
			ExpertID:       body.ExpertID,
			ClientID:       body.ClientID,
			ScheduledStart: body.ScheduledStart,
			ScheduledEnd:   body.ScheduledEnd,
			Medium:         body.Medium,
		},
		Status: body.Status,
	}, nil
}
