package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/authz"
	"github.com/hackgods/healthbook-scheduling/internal/config"
	redisclient "github.com/hackgods/healthbook-scheduling/internal/redis"
)

var (
	patient1  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	patient2  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	provider1 = uuid.MustParse("00000000-0000-0000-0000-000000000010")
	provider2 = uuid.MustParse("00000000-0000-0000-0000-000000000011")

	fixedNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	slotT    = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo *MemRepository
	svc  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	repo := NewMemRepository()

	for _, p := range []Patient{
		{ID: patient1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		{ID: patient2, FirstName: "Alan", LastName: "Turing", Email: "alan@example.com"},
	} {
		if _, err := repo.CreatePatient(ctx, p); err != nil {
			t.Fatalf("CreatePatient: %v", err)
		}
	}
	for _, p := range []Provider{
		{ID: provider1, FirstName: "Gregory", LastName: "House", Specialty: "Diagnostics", Email: "house@example.com"},
		{ID: provider2, FirstName: "Lisa", LastName: "Cuddy", Specialty: "Endocrinology", Email: "cuddy@example.com"},
	} {
		if _, err := repo.CreateProvider(ctx, p); err != nil {
			t.Fatalf("CreateProvider: %v", err)
		}
	}

	svc := NewService(repo, nil, config.Config{DefaultDuration: 30 * time.Minute}, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }

	return &fixture{repo: repo, svc: svc}
}

func (f *fixture) book(t *testing.T, actor authz.Actor, patientID, providerID uuid.UUID, at time.Time) *Appointment {
	t.Helper()
	a, err := f.svc.RequestAppointment(context.Background(), actor, BookingRequest{
		PatientID:     patientID,
		ProviderID:    providerID,
		ScheduledTime: at,
		Reason:        "checkup",
	})
	if err != nil {
		t.Fatalf("RequestAppointment: %v", err)
	}
	return a
}

func TestBookingScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A
	a, err := f.svc.RequestAppointment(ctx, authz.Patient(patient1), BookingRequest{
		PatientID:     patient1,
		ProviderID:    provider1,
		ScheduledTime: slotT,
		Reason:        "checkup",
	})
	if err != nil {
		t.Fatalf("A: unexpected error: %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("A: status = %s, want %s", a.Status, StatusPending)
	}
	if a.DurationMinutes != 30 {
		t.Fatalf("A: duration = %d, want 30", a.DurationMinutes)
	}
	if a.Reason != "checkup" {
		t.Fatalf("A: reason = %q", a.Reason)
	}
	if !a.ScheduledTime.After(a.CreatedAt) {
		t.Fatalf("A: scheduled %s not after created %s", a.ScheduledTime, a.CreatedAt)
	}

	// B
	_, err = f.svc.RequestAppointment(ctx, authz.Patient(patient2), BookingRequest{
		PatientID:     patient2,
		ProviderID:    provider1,
		ScheduledTime: slotT,
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("B: error = %v, want %v", err, ErrSlotConflict)
	}

	// C
	_, err = f.svc.RequestAppointment(ctx, authz.Patient(patient1), BookingRequest{
		PatientID:     patient1,
		ProviderID:    provider1,
		ScheduledTime: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("C: error = %v, want %v", err, ErrPastDate)
	}

	// E runs before D so the appointment is still pending.
	_, err = f.svc.ConfirmAppointment(ctx, authz.Provider(provider2), a.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("E: error = %v, want %v", err, ErrForbidden)
	}
	got, err := f.svc.GetAppointment(ctx, authz.Admin(), a.ID)
	if err != nil {
		t.Fatalf("E: get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("E: status = %s, want unchanged %s", got.Status, StatusPending)
	}

	// D
	confirmed, err := f.svc.ConfirmAppointment(ctx, authz.Provider(provider1), a.ID)
	if err != nil {
		t.Fatalf("D: confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("D: status = %s, want %s", confirmed.Status, StatusConfirmed)
	}
	_, err = f.svc.ConfirmAppointment(ctx, authz.Provider(provider1), a.ID)
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("D: second confirm error = %v, want %v", err, ErrInvalidStatusTransition)
	}

	// F
	cancelled, err := f.svc.CancelAppointment(ctx, authz.Admin(), a.ID)
	if err != nil {
		t.Fatalf("F: cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("F: status = %s, want %s", cancelled.Status, StatusCancelled)
	}
	_, err = f.svc.CancelAppointment(ctx, authz.Admin(), a.ID)
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("F: second cancel error = %v, want %v", err, ErrInvalidStatusTransition)
	}
	rebooked := f.book(t, authz.Patient(patient2), patient2, provider1, slotT)
	if rebooked.ID == a.ID {
		t.Fatal("F: rebooking must create a new appointment")
	}
}

func TestRequestAppointment_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestAppointment(ctx, authz.Admin(), BookingRequest{
		PatientID:     uuid.New(),
		ProviderID:    provider1,
		ScheduledTime: slotT,
	})
	if !errors.Is(err, ErrPatientNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown patient: error = %v", err)
	}

	_, err = f.svc.RequestAppointment(ctx, authz.Admin(), BookingRequest{
		PatientID:     patient1,
		ProviderID:    uuid.New(),
		ScheduledTime: slotT,
	})
	if !errors.Is(err, ErrProviderNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown provider: error = %v", err)
	}
}

func TestRequestAppointment_Authorization(t *testing.T) {
	tests := []struct {
		name    string
		actor   authz.Actor
		patient uuid.UUID
		wantErr error
	}{
		{"admin for anyone", authz.Admin(), patient2, nil},
		{"patient for self", authz.Patient(patient1), patient1, nil},
		{"patient for someone else", authz.Patient(patient1), patient2, ErrForbidden},
		{"owning provider", authz.Provider(provider1), patient1, ErrForbidden},
		{"patient without link", authz.Actor{Role: authz.RolePatient}, patient1, ErrForbidden},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			at := slotT.Add(time.Duration(i) * time.Hour)
			_, err := f.svc.RequestAppointment(context.Background(), tt.actor, BookingRequest{
				PatientID:     tt.patient,
				ProviderID:    provider1,
				ScheduledTime: at,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && len(f.repo.Events()) != 0 {
				t.Fatal("a rejected booking must not leave events behind")
			}
		})
	}
}

func TestRequestAppointment_NowIsNotFuture(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestAppointment(context.Background(), authz.Admin(), BookingRequest{
		PatientID:     patient1,
		ProviderID:    provider1,
		ScheduledTime: fixedNow,
	})
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("error = %v, want %v", err, ErrPastDate)
	}
}

func TestRequestAppointment_SubMicrosecondTimesShareSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, authz.Admin(), patient1, provider1, slotT.Add(300*time.Nanosecond))
	if !a.ScheduledTime.Equal(slotT) {
		t.Fatalf("stored time = %s, want %s", a.ScheduledTime, slotT)
	}

	_, err := f.svc.RequestAppointment(ctx, authz.Admin(), BookingRequest{
		PatientID:     patient2,
		ProviderID:    provider1,
		ScheduledTime: slotT.Add(700 * time.Nanosecond),
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("error = %v, want %v", err, ErrSlotConflict)
	}

	// a few nanoseconds past now is still now
	_, err = f.svc.RequestAppointment(ctx, authz.Admin(), BookingRequest{
		PatientID:     patient1,
		ProviderID:    provider2,
		ScheduledTime: fixedNow.Add(500 * time.Nanosecond),
	})
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("near-now error = %v, want %v", err, ErrPastDate)
	}
}

func TestRequestAppointment_SameTimeDifferentProvider(t *testing.T) {
	f := newFixture(t)

	f.book(t, authz.Admin(), patient1, provider1, slotT)
	f.book(t, authz.Admin(), patient1, provider2, slotT)
}

func TestRequestAppointment_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patient := patient1
			if i%2 == 1 {
				patient = patient2
			}
			<-start
			_, err := f.svc.RequestAppointment(context.Background(), authz.Admin(), BookingRequest{
				PatientID:     patient,
				ProviderID:    provider1,
				ScheduledTime: slotT,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("successes = %d, conflicts = %d, want 1 and %d", successes, conflicts, workers-1)
	}

	all, _ := f.repo.ListAppointments(context.Background())
	if len(all) != 1 {
		t.Fatalf("stored appointments = %d, want 1", len(all))
	}
}

type fakeLocker struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *fakeLocker) WithSlotLock(ctx context.Context, providerID uuid.UUID, at time.Time, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, redisclient.SlotKey(providerID, at))
	l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func TestRequestAppointment_UsesSlotLocker(t *testing.T) {
	f := newFixture(t)
	locker := &fakeLocker{}
	f.svc.locker = locker

	f.book(t, authz.Admin(), patient1, provider1, slotT)

	if len(locker.calls) != 1 || locker.calls[0] != redisclient.SlotKey(provider1, slotT) {
		t.Fatalf("locker calls = %v", locker.calls)
	}
}

func TestRequestAppointment_LockNotAcquired(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = &fakeLocker{err: redisclient.ErrLockNotAcquired}

	_, err := f.svc.RequestAppointment(context.Background(), authz.Admin(), BookingRequest{
		PatientID:     patient1,
		ProviderID:    provider1,
		ScheduledTime: slotT,
	})
	if !errors.Is(err, redisclient.ErrLockNotAcquired) {
		t.Fatalf("error = %v, want %v", err, redisclient.ErrLockNotAcquired)
	}
	if IsBusinessError(err) {
		t.Fatal("lock timeout must not be reported as a business error")
	}

	all, _ := f.repo.ListAppointments(context.Background())
	if len(all) != 0 {
		t.Fatalf("stored appointments = %d, want 0", len(all))
	}
}

var errStoreDown = errors.New("store down")

// brokenRepo fails every unit of work while reads keep working.
type brokenRepo struct {
	*MemRepository
}

func (brokenRepo) InTx(context.Context, func(context.Context, Tx) error) error {
	return errStoreDown
}

func (brokenRepo) InSlotTx(context.Context, uuid.UUID, time.Time, func(context.Context, Tx) error) error {
	return errStoreDown
}

func TestStoreFailuresPropagateUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, authz.Admin(), patient1, provider1, slotT)

	svc := NewService(brokenRepo{f.repo}, nil, config.Config{}, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	_, err := svc.RequestAppointment(ctx, authz.Admin(), BookingRequest{
		PatientID:     patient2,
		ProviderID:    provider2,
		ScheduledTime: slotT,
	})
	if !errors.Is(err, errStoreDown) || IsBusinessError(err) {
		t.Fatalf("request: error = %v, want %v", err, errStoreDown)
	}

	_, err = svc.ConfirmAppointment(ctx, authz.Provider(provider1), a.ID)
	if !errors.Is(err, errStoreDown) || IsBusinessError(err) {
		t.Fatalf("confirm: error = %v, want %v", err, errStoreDown)
	}
}

func TestNewService_FallsBackToDefaultDuration(t *testing.T) {
	svc := NewService(NewMemRepository(), nil, config.Config{}, zerolog.Nop())
	if svc.duration != DefaultDuration {
		t.Fatalf("duration = %s, want %s", svc.duration, DefaultDuration)
	}
}

func TestEventTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, authz.Patient(patient1), patient1, provider1, slotT)
	if _, err := f.svc.ConfirmAppointment(ctx, authz.Provider(provider1), a.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.CancelAppointment(ctx, authz.Patient(patient1), a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// rejected, must not add an event
	_, _ = f.svc.CancelAppointment(ctx, authz.Patient(patient1), a.ID)

	events := f.repo.Events()
	want := []string{EventAppointmentRequested, EventAppointmentConfirmed, EventAppointmentCancelled}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.EventType != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.EventType, want[i])
		}
		if ev.AppointmentID == nil || *ev.AppointmentID != a.ID {
			t.Errorf("event %d appointment = %v, want %s", i, ev.AppointmentID, a.ID)
		}
		if ev.ID != int64(i+1) {
			t.Errorf("event %d id = %d", i, ev.ID)
		}
	}
}
