package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/appointment"
	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

const maxBodyBytes = 1 << 20

// AppointmentService is the part of *appointment.Service the handlers use.
type AppointmentService interface {
	RequestAppointment(ctx context.Context, actor authz.Actor, req appointment.BookingRequest) (*appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, actor authz.Actor, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, actor authz.Actor, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, actor authz.Actor, id uuid.UUID) (*appointment.Appointment, error)
	ListVisibleAppointments(ctx context.Context, actor authz.Actor) ([]appointment.Appointment, error)
	ListUpcoming(ctx context.Context, actor authz.Actor) ([]appointment.Appointment, error)
	CountByStatus(ctx context.Context, actor authz.Actor) (map[appointment.AppointmentStatus]int, error)
	BookingOptions(ctx context.Context, actor authz.Actor) (*appointment.BookingOptions, error)
	ListProviders(ctx context.Context, f appointment.ProviderFilter) ([]appointment.Provider, error)
	ListSpecialties(ctx context.Context) ([]string, error)
}

type handlers struct {
	svc AppointmentService
	log zerolog.Logger
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}

	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledTime))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_scheduled_time", "scheduled_time must be an RFC 3339 timestamp")
		return
	}

	appt, err := h.svc.RequestAppointment(r.Context(), ActorFromContext(r.Context()), appointment.BookingRequest{
		PatientID:     patientID,
		ProviderID:    providerID,
		ScheduledTime: at,
		Reason:        req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	w.Header().Set("Location", "/appointments/"+appt.ID.String())
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.ConfirmAppointment)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.CancelAppointment)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.GetAppointment)
}

func (h *handlers) byID(w http.ResponseWriter, r *http.Request, op func(context.Context, authz.Actor, uuid.UUID) (*appointment.Appointment, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := op(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListVisibleAppointments(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(list))
}

func (h *handlers) listUpcoming(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListUpcoming(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(list))
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.CountByStatus(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := SummaryResponse{Counts: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) bookingOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.svc.BookingOptions(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingOptionsResponse{
		Patients:  toPatientResponses(opts.Patients),
		Providers: toProviderResponses(opts.Providers),
	})
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.ListProviders(r.Context(), appointment.ProviderFilter{
		Specialty: q.Get("specialty"),
		Name:      q.Get("name"),
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProviderResponses(list))
}

func (h *handlers) listSpecialties(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSpecialties(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, SpecialtiesResponse{Specialties: list})
}
