package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

// ConfirmAppointment moves a pending appointment to confirmed. Only the
// provider the appointment is booked with may confirm it.
func (s *Service) ConfirmAppointment(ctx context.Context, actor authz.Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, authz.ActionConfirm, StatusConfirmed, EventAppointmentConfirmed)
}

// CancelAppointment moves a pending or confirmed appointment to cancelled.
// A cancelled appointment no longer blocks its provider slot.
func (s *Service) CancelAppointment(ctx context.Context, actor authz.Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, authz.ActionCancel, StatusCancelled, EventAppointmentCancelled)
}

// transition loads, checks and writes the appointment inside one unit of
// work. It returns only after the unit has committed, so any later read
// sees the new status.
func (s *Service) transition(ctx context.Context, actor authz.Actor, id uuid.UUID, action authz.Action, to AppointmentStatus, event string) (*Appointment, error) {
	var updated *Appointment

	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}

		if !authz.Can(actor, action, ownership(appt)) {
			return fmt.Errorf("%w: %s may not %s appointment %s", ErrForbidden, actor.Role, action, id)
		}

		from := appt.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
		}

		appt.Status = to
		appt.UpdatedAt = s.now()
		if err := tx.SaveAppointment(ctx, appt); err != nil {
			return fmt.Errorf("save appointment: %w", err)
		}

		if err := s.logEvent(ctx, tx, appt.ID, event, map[string]any{
			"from":  string(from),
			"to":    string(to),
			"actor": actor.String(),
		}); err != nil {
			return err
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("status", string(updated.Status)).
		Str("actor", actor.String()).
		Msg("appointment status changed")

	return updated, nil
}
