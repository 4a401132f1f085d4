package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/healthbook-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID     string `json:"patient_id"`
	ProviderID    string `json:"provider_id"`
	ScheduledTime string `json:"scheduled_time"` // RFC 3339
	Reason        string `json:"reason"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type SummaryResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type PatientResponse struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
}

type ProviderResponse struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Specialty string    `json:"specialty"`
	Email     string    `json:"email"`
}

type BookingOptionsResponse struct {
	Patients  []PatientResponse  `json:"patients"`
	Providers []ProviderResponse `json:"providers"`
}

type SpecialtiesResponse struct {
	Specialties []string `json:"specialties"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		ScheduledTime:   a.ScheduledTime,
		EndTime:         a.EndTime(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Reason:          a.Reason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toListResponse(list []appointment.Appointment) ListAppointmentsResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return ListAppointmentsResponse{Appointments: out, Count: len(out)}
}

func toProviderResponses(list []appointment.Provider) []ProviderResponse {
	out := make([]ProviderResponse, 0, len(list))
	for _, p := range list {
		out = append(out, ProviderResponse{
			ID:        p.ID,
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Specialty: p.Specialty,
			Email:     p.Email,
		})
	}
	return out
}

func toPatientResponses(list []appointment.Patient) []PatientResponse {
	out := make([]PatientResponse, 0, len(list))
	for _, p := range list {
		out = append(out, PatientResponse{
			ID:        p.ID,
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Email:     p.Email,
		})
	}
	return out
}
