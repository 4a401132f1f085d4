package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory is read-only access to the people appointments are booked between.
type Directory interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	ListPatients(ctx context.Context) ([]Patient, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	SearchProviders(ctx context.Context, f ProviderFilter) ([]Provider, error)
	// ListSpecialties returns each distinct provider specialty once, sorted.
	ListSpecialties(ctx context.Context) ([]string, error)
}

// Tx is the store as seen from inside one unit of work. Writes made through
// it become visible together when the unit returns nil and not at all
// otherwise.
type Tx interface {
	CountConflicting(ctx context.Context, providerID uuid.UUID, at time.Time) (int, error)
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// GetAppointmentForUpdate loads an appointment and holds it until the
	// unit ends.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SaveAppointment(ctx context.Context, a *Appointment) error
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	Directory

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID) ([]Appointment, error)
	ListAppointments(ctx context.Context) ([]Appointment, error)
	// ListUpcoming returns non-cancelled appointments at or after now,
	// ordered by scheduled time ascending.
	ListUpcoming(ctx context.Context, now time.Time) ([]Appointment, error)

	// InSlotTx runs fn as one unit of work that holds the (provider, time)
	// slot exclusively, so a conflict count taken inside fn stays true until
	// the unit commits.
	InSlotTx(ctx context.Context, providerID uuid.UUID, at time.Time, fn func(ctx context.Context, tx Tx) error) error
	// InTx runs fn as one unit of work.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
