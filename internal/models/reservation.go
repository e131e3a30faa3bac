package models

import (
	"time"

	"github.com/google/uuid"
)

// Medium is the consultation medium agreed at reservation time. It decides
// which devices a participant must have working before declaring ready.
type Medium string

const (
	MediumVideo Medium = "video"
	MediumVoice Medium = "voice"
	MediumChat  Medium = "chat"
)

// ReservationStatus mirrors the reservation service's lifecycle. Only
// CONFIRMED reservations are admitted into a live session.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationDeclined  ReservationStatus = "DECLINED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// ReservationRef is the immutable link from a session back to the reservation
// it was created for. The reservation service owns the record; the coordinator
// only reads it.
type ReservationRef struct {
	ReservationID  uuid.UUID
	ExpertID       uuid.UUID
	ClientID       uuid.UUID
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	Medium         Medium
}

// Reservation is the reservation service's view of a booking, as returned by
// the lookup endpoint.
type Reservation struct {
	ReservationRef
	Status ReservationStatus
}

// UserIDForRole returns the booked user for the given participant role.
func (r ReservationRef) UserIDForRole(role Role) uuid.UUID {
	if role == RoleExpert {
		return r.ExpertID
	}
	return r.ClientID
}
