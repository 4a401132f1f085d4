package appointment

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/authz"
	"github.com/hackgods/healthbook-scheduling/internal/config"
	"github.com/hackgods/healthbook-scheduling/internal/db"
)

func newPgRepository(t *testing.T) (*PgRepository, *pgxpool.Pool) {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 40})
	if err != nil {
		t.Fatalf("ConnectPostgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewPgRepository(pool), pool
}

// seedPg inserts a fresh patient pair and provider so tests never collide
// with rows left by earlier runs.
func seedPg(t *testing.T, repo *PgRepository) (p1, p2, prov uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	mk := func(first string) uuid.UUID {
		p, err := repo.CreatePatient(ctx, Patient{
			ID:        uuid.New(),
			FirstName: first,
			LastName:  "Test",
			Email:     uuid.NewString() + "@example.com",
		})
		if err != nil {
			t.Fatalf("CreatePatient: %v", err)
		}
		return p.ID
	}
	p1, p2 = mk("One"), mk("Two")

	pr, err := repo.CreateProvider(ctx, Provider{
		ID:        uuid.New(),
		FirstName: "Doc",
		LastName:  "Test",
		Specialty: "Cardiology",
		Email:     uuid.NewString() + "@example.com",
	})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	return p1, p2, pr.ID
}

func TestPgIntegration_ConcurrentBookingSameSlot(t *testing.T) {
	repo, _ := newPgRepository(t)
	p1, p2, prov := seedPg(t, repo)

	svc := NewService(repo, nil, config.Config{DefaultDuration: 30 * time.Minute}, zerolog.Nop())
	at := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patient := p1
			if i%2 == 1 {
				patient = p2
			}
			_, err := svc.RequestAppointment(context.Background(), authz.Admin(), BookingRequest{
				PatientID:     patient,
				ProviderID:    prov,
				ScheduledTime: at,
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if !errors.Is(err, ErrSlotConflict) {
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected errors: %v", failures)
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
}

func TestPgIntegration_UniqueIndexMapsToSlotConflict(t *testing.T) {
	repo, _ := newPgRepository(t)
	p1, p2, prov := seedPg(t, repo)
	ctx := context.Background()
	at := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)

	insert := func(patient uuid.UUID) error {
		// plain InTx skips the advisory lock, leaving only the index
		return repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
			now := time.Now().UTC()
			_, err := tx.CreateAppointment(ctx, Appointment{
				ID:              uuid.New(),
				PatientID:       patient,
				ProviderID:      prov,
				ScheduledTime:   at,
				DurationMinutes: 30,
				Status:          StatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
			return err
		})
	}

	if err := insert(p1); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(p2); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("second insert error = %v, want %v", err, ErrSlotConflict)
	}
}

func TestPgIntegration_Lifecycle(t *testing.T) {
	repo, pool := newPgRepository(t)
	p1, p2, prov := seedPg(t, repo)
	ctx := context.Background()

	svc := NewService(repo, nil, config.Config{DefaultDuration: 30 * time.Minute}, zerolog.Nop())
	at := time.Now().UTC().Add(96 * time.Hour).Truncate(time.Minute)

	a, err := svc.RequestAppointment(ctx, authz.Patient(p1), BookingRequest{PatientID: p1, ProviderID: prov, ScheduledTime: at, Reason: "checkup"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.ConfirmAppointment(ctx, authz.Provider(prov), a.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.CancelAppointment(ctx, authz.Admin(), a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, err := repo.GetAppointmentByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", stored.Status, StatusCancelled)
	}

	if _, err := svc.RequestAppointment(ctx, authz.Patient(p2), BookingRequest{PatientID: p2, ProviderID: prov, ScheduledTime: at}); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}

	var events int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM event_logs WHERE appointment_id = $1`, a.ID).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 3 {
		t.Fatalf("events = %d, want 3", events)
	}

	if _, err := repo.GetAppointmentByID(ctx, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("missing appointment error = %v", err)
	}
}

func TestPgIntegration_SearchProviders(t *testing.T) {
	repo, _ := newPgRepository(t)
	ctx := context.Background()

	specialty := "Spec-" + uuid.NewString()[:8]
	last := "Zed" + uuid.NewString()[:8]
	pr, err := repo.CreateProvider(ctx, Provider{
		ID:        uuid.New(),
		FirstName: "Doc",
		LastName:  last,
		Specialty: specialty,
		Email:     uuid.NewString() + "@example.com",
	})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	got, err := repo.SearchProviders(ctx, ProviderFilter{Specialty: strings.ToLower(specialty), Name: strings.ToUpper(last[1:6])})
	if err != nil {
		t.Fatalf("SearchProviders: %v", err)
	}
	if len(got) != 1 || got[0].ID != pr.ID {
		t.Fatalf("search = %+v", got)
	}

	specialties, err := repo.ListSpecialties(ctx)
	if err != nil {
		t.Fatalf("ListSpecialties: %v", err)
	}
	var n int
	for _, s := range specialties {
		if s == specialty {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("%s listed %d times", specialty, n)
	}
}
