package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

// ListVisibleAppointments returns every appointment the actor may view.
// Admins see all of them, providers and patients see their own. An actor
// without the link its role needs sees nothing.
func (s *Service) ListVisibleAppointments(ctx context.Context, actor authz.Actor) ([]Appointment, error) {
	var (
		all []Appointment
		err error
	)

	switch actor.Role {
	case authz.RoleAdmin:
		all, err = s.repo.ListAppointments(ctx)
	case authz.RoleProvider:
		id, ok := actor.LinkedProvider()
		if !ok {
			return []Appointment{}, nil
		}
		all, err = s.repo.ListAppointmentsByProvider(ctx, id)
	case authz.RolePatient:
		id, ok := actor.LinkedPatient()
		if !ok {
			return []Appointment{}, nil
		}
		all, err = s.repo.ListAppointmentsByPatient(ctx, id)
	default:
		return []Appointment{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return visible(actor, all), nil
}

// GetAppointment returns a single appointment if the actor may view it.
func (s *Service) GetAppointment(ctx context.Context, actor authz.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.Can(actor, authz.ActionView, ownership(appt)) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListUpcoming returns the actor's visible, not cancelled appointments that
// start at or after the current time, soonest first.
func (s *Service) ListUpcoming(ctx context.Context, actor authz.Actor) ([]Appointment, error) {
	all, err := s.repo.ListUpcoming(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	return visible(actor, all), nil
}

// CountByStatus counts the actor's visible appointments per status. Every
// status is present in the result, with zero when nothing matches.
func (s *Service) CountByStatus(ctx context.Context, actor authz.Actor) (map[AppointmentStatus]int, error) {
	appts, err := s.ListVisibleAppointments(ctx, actor)
	if err != nil {
		return nil, err
	}

	counts := map[AppointmentStatus]int{
		StatusPending:   0,
		StatusConfirmed: 0,
		StatusCancelled: 0,
		StatusCompleted: 0,
	}
	for _, a := range appts {
		counts[a.Status]++
	}
	return counts, nil
}

// BookingOptions lists who the actor may pick when requesting an
// appointment. A patient only gets their own record, an admin gets every
// patient, and both get every provider. Providers cannot book.
func (s *Service) BookingOptions(ctx context.Context, actor authz.Actor) (*BookingOptions, error) {
	var patients []Patient

	switch actor.Role {
	case authz.RoleAdmin:
		all, err := s.repo.ListPatients(ctx)
		if err != nil {
			return nil, fmt.Errorf("list patients: %w", err)
		}
		patients = all
	case authz.RolePatient:
		patients = []Patient{}
		if id, ok := actor.LinkedPatient(); ok {
			p, err := s.repo.GetPatientByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("load linked patient: %w", err)
			}
			patients = append(patients, *p)
		}
	default:
		return nil, fmt.Errorf("%w: %s cannot book appointments", ErrForbidden, actor.Role)
	}

	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	return &BookingOptions{Patients: patients, Providers: providers}, nil
}

// ListProviders returns the providers matching f, or all of them when f is
// empty.
func (s *Service) ListProviders(ctx context.Context, f ProviderFilter) ([]Provider, error) {
	f.Specialty = strings.TrimSpace(f.Specialty)
	f.Name = strings.TrimSpace(f.Name)
	if f == (ProviderFilter{}) {
		return s.repo.ListProviders(ctx)
	}
	return s.repo.SearchProviders(ctx, f)
}

func (s *Service) ListSpecialties(ctx context.Context) ([]string, error) {
	return s.repo.ListSpecialties(ctx)
}

func visible(actor authz.Actor, appts []Appointment) []Appointment {
	out := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if authz.Can(actor, authz.ActionView, ownership(&a)) {
			out = append(out, a)
		}
	}
	return out
}
