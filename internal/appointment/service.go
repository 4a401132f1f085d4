package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/authz"
	"github.com/hackgods/healthbook-scheduling/internal/config"
	redisclient "github.com/hackgods/healthbook-scheduling/internal/redis"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	duration time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewService wires the booking engine. locker may be nil, in which case the
// store's own slot transaction is the only guard against double booking.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	duration := cfg.DefaultDuration
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		duration: duration,
		log:      log.With().Str("component", "appointment").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type BookingRequest struct {
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	ScheduledTime time.Time
	Reason        string
}

// RequestAppointment books a pending appointment for a patient with a
// provider. The conflict check and the insert run as one unit under the slot
// lock, so two concurrent requests for the same provider and instant cannot
// both succeed.
func (s *Service) RequestAppointment(ctx context.Context, actor authz.Actor, req BookingRequest) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	own := authz.Ownership{PatientID: req.PatientID, ProviderID: req.ProviderID}
	if !authz.Can(actor, authz.ActionBook, own) {
		return nil, fmt.Errorf("%w: %s may not book for patient %s", ErrForbidden, actor.Role, req.PatientID)
	}

	now := s.now()
	at := slotTime(req.ScheduledTime)
	if !at.After(now) {
		return nil, ErrPastDate
	}

	appt := Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		ScheduledTime:   at,
		DurationMinutes: int(s.duration / time.Minute),
		Status:          StatusPending,
		Reason:          strings.TrimSpace(req.Reason),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var created *Appointment
	book := func(ctx context.Context) error {
		return s.repo.InSlotTx(ctx, req.ProviderID, at, func(ctx context.Context, tx Tx) error {
			// Re-count inside the unit; a count taken outside it could be stale.
			n, err := tx.CountConflicting(ctx, req.ProviderID, at)
			if err != nil {
				return fmt.Errorf("count conflicting appointments: %w", err)
			}
			if n > 0 {
				return ErrSlotConflict
			}

			a, err := tx.CreateAppointment(ctx, appt)
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			if err := s.logEvent(ctx, tx, a.ID, EventAppointmentRequested, map[string]any{
				"patient_id":     a.PatientID.String(),
				"provider_id":    a.ProviderID.String(),
				"scheduled_time": a.ScheduledTime,
			}); err != nil {
				return err
			}

			created = a
			return nil
		})
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithSlotLock(ctx, req.ProviderID, at, book)
	} else {
		err = book(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("patient_id", created.PatientID.String()).
		Str("provider_id", created.ProviderID.String()).
		Time("scheduled_time", created.ScheduledTime).
		Msg("appointment requested")

	return created, nil
}

func (s *Service) logEvent(ctx context.Context, tx Tx, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

// slotTime normalises a requested start to the precision Postgres stores
// (microseconds), so every store sees the same slot for the same request.
func slotTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func ownership(a *Appointment) authz.Ownership {
	return authz.Ownership{PatientID: a.PatientID, ProviderID: a.ProviderID}
}
