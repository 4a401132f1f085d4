package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// DefaultDuration is used when the service is built without an explicit one.
const DefaultDuration = 30 * time.Minute

// transitions lists every allowed status move. Cancelled and completed have
// no outgoing edges. Nothing moves an appointment to completed yet.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the status machine.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	Phone     *string
	BirthDate *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provider is a clinician that patients book time with.
type Provider struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Specialty string
	Email     string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderFilter narrows a provider search. Specialty matches exactly and
// Name matches part of the last name, both ignoring case. Empty fields match
// everyone.
type ProviderFilter struct {
	Specialty string
	Name      string
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	ScheduledTime   time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EndTime is ScheduledTime plus the appointment duration.
func (a Appointment) EndTime() time.Time {
	return a.ScheduledTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// BookingOptions is the set of patients and providers an actor may pick from
// when requesting an appointment.
type BookingOptions struct {
	Patients  []Patient
	Providers []Provider
}
