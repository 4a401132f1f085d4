package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository keeps everything in process memory. A unit of work holds the
// write lock for its whole run and its writes are applied only when it
// returns nil, which gives the same all-or-nothing behaviour as the
// Postgres transaction.
type MemRepository struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]Patient
	providers    map[uuid.UUID]Provider
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		patients:     make(map[uuid.UUID]Patient),
		providers:    make(map[uuid.UUID]Provider),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func copyPatient(p Patient) Patient {
	if p.Phone != nil {
		v := *p.Phone
		p.Phone = &v
	}
	if p.BirthDate != nil {
		v := *p.BirthDate
		p.BirthDate = &v
	}
	return p
}

func copyProvider(p Provider) Provider {
	if p.Phone != nil {
		v := *p.Phone
		p.Phone = &v
	}
	return p
}

func sortAppointments(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ScheduledTime.Equal(list[j].ScheduledTime) {
			return list[i].ScheduledTime.Before(list[j].ScheduledTime)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

func sortProviders(list []Provider) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].LastName != list[j].LastName {
			return list[i].LastName < list[j].LastName
		}
		if list[i].FirstName != list[j].FirstName {
			return list[i].FirstName < list[j].FirstName
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

// Directory

func (r *MemRepository) CreatePatient(_ context.Context, p Patient) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	r.patients[p.ID] = copyPatient(p)
	out := copyPatient(p)
	return &out, nil
}

func (r *MemRepository) CreateProvider(_ context.Context, p Provider) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	r.providers[p.ID] = copyProvider(p)
	out := copyProvider(p)
	return &out, nil
}

func (r *MemRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	out := copyPatient(p)
	return &out, nil
}

func (r *MemRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	out := copyProvider(p)
	return &out, nil
}

func (r *MemRepository) ListPatients(_ context.Context) ([]Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Patient, 0, len(r.patients))
	for _, p := range r.patients {
		out = append(out, copyPatient(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemRepository) ListProviders(_ context.Context) ([]Provider, error) {
	return r.filterProviders(func(Provider) bool { return true }), nil
}

func (r *MemRepository) SearchProviders(_ context.Context, f ProviderFilter) ([]Provider, error) {
	name := strings.ToLower(f.Name)
	return r.filterProviders(func(p Provider) bool {
		if f.Specialty != "" && !strings.EqualFold(p.Specialty, f.Specialty) {
			return false
		}
		return strings.Contains(strings.ToLower(p.LastName), name)
	}), nil
}

func (r *MemRepository) ListSpecialties(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	out := []string{}
	for _, p := range r.providers {
		if !seen[p.Specialty] {
			seen[p.Specialty] = true
			out = append(out, p.Specialty)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemRepository) filterProviders(keep func(Provider) bool) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Provider{}
	for _, p := range r.providers {
		if keep(p) {
			out = append(out, copyProvider(p))
		}
	}
	sortProviders(out)
	return out
}

// Appointments

func (r *MemRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *MemRepository) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool { return a.ProviderID == providerID }), nil
}

func (r *MemRepository) ListAppointments(_ context.Context) ([]Appointment, error) {
	return r.filterAppointments(func(Appointment) bool { return true }), nil
}

func (r *MemRepository) ListUpcoming(_ context.Context, now time.Time) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool {
		return a.Status != StatusCancelled && !a.ScheduledTime.Before(now)
	}), nil
}

func (r *MemRepository) filterAppointments(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Appointment{}
	for _, a := range r.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out
}

// Events returns a copy of the event trail in insertion order.
func (r *MemRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

// Units of work

func (r *MemRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{r: r, staged: make(map[uuid.UUID]Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// InSlotTx is InTx: every unit already runs under the store-wide write lock.
func (r *MemRepository) InSlotTx(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context, tx Tx) error) error {
	return r.InTx(ctx, fn)
}

// memTx must only be used while the owning repository's write lock is held.
type memTx struct {
	r      *MemRepository
	staged map[uuid.UUID]Appointment
	events []EventLog
}

func (t *memTx) lookup(id uuid.UUID) (Appointment, bool) {
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	a, ok := t.r.appointments[id]
	return a, ok
}

func (t *memTx) activeInSlot(providerID uuid.UUID, at time.Time) int {
	n := 0
	seen := make(map[uuid.UUID]bool, len(t.staged))
	count := func(a Appointment) {
		if a.ProviderID == providerID && a.ScheduledTime.Equal(at) && a.Status != StatusCancelled {
			n++
		}
	}
	for id, a := range t.staged {
		seen[id] = true
		count(a)
	}
	for id, a := range t.r.appointments {
		if !seen[id] {
			count(a)
		}
	}
	return n
}

func (t *memTx) CountConflicting(_ context.Context, providerID uuid.UUID, at time.Time) (int, error) {
	return t.activeInSlot(providerID, at), nil
}

func (t *memTx) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	if _, ok := t.r.patients[a.PatientID]; !ok {
		return nil, ErrPatientNotFound
	}
	if _, ok := t.r.providers[a.ProviderID]; !ok {
		return nil, ErrProviderNotFound
	}
	if a.Status != StatusCancelled && t.activeInSlot(a.ProviderID, a.ScheduledTime) > 0 {
		return nil, ErrSlotConflict
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	t.staged[a.ID] = a
	return &a, nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.lookup(id)
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) SaveAppointment(_ context.Context, a *Appointment) error {
	if _, ok := t.lookup(a.ID); !ok {
		return ErrAppointmentNotFound
	}
	t.staged[a.ID] = *a
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if len(ev.Payload) > 0 {
		ev.Payload = append([]byte(nil), ev.Payload...)
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *memTx) apply() {
	for id, a := range t.staged {
		t.r.appointments[id] = a
	}
	for _, ev := range t.events {
		t.r.nextEventID++
		ev.ID = t.r.nextEventID
		t.r.events = append(t.r.events, ev)
	}
}
