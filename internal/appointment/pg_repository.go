package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	activeSlotIndex       = "appointments_active_slot_uniq"
	appointmentPatientFK  = "appointments_patient_id_fkey"
	appointmentProviderFK = "appointments_provider_id_fkey"
)

// queryable is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const (
	patientColumns     = `id, first_name, last_name, email, phone, birth_date, created_at, updated_at`
	providerColumns    = `id, first_name, last_name, specialty, email, phone, created_at, updated_at`
	appointmentColumns = `id, patient_id, provider_id, scheduled_time, duration_minutes, status, reason, created_at, updated_at`
)

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.BirthDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Specialty,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.ScheduledTime,
		&a.DurationMinutes,
		&status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.ScheduledTime = a.ScheduledTime.UTC()
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// slotLockKey is hashed by Postgres into the advisory lock id for one
// provider slot.
func slotLockKey(providerID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("slot:%s:%d", providerID, at.UTC().Unix())
}

// Directory

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	return scanProvider(row)
}

func (r *PgRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		ORDER BY last_name, first_name, id
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPatient)
}

func (r *PgRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		ORDER BY last_name, first_name, id
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProvider)
}

func (r *PgRepository) SearchProviders(ctx context.Context, f ProviderFilter) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE ($1::text = '' OR lower(specialty) = lower($1))
		  AND ($2::text = '' OR strpos(lower(last_name), lower($2)) > 0)
		ORDER BY last_name, first_name, id
	`, f.Specialty, f.Name)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProvider)
}

func (r *PgRepository) ListSpecialties(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT specialty FROM providers ORDER BY specialty`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CreatePatient and CreateProvider are used by the seeder.

func (r *PgRepository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, email, phone, birth_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+patientColumns,
		p.ID, p.FirstName, p.LastName, p.Email, p.Phone, p.BirthDate)
	return scanPatient(row)
}

func (r *PgRepository) CreateProvider(ctx context.Context, p Provider) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO providers (id, first_name, last_name, specialty, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+providerColumns,
		p.ID, p.FirstName, p.LastName, p.Specialty, p.Email, p.Phone)
	return scanProvider(row)
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `WHERE patient_id = $1 ORDER BY scheduled_time, id`, patientID)
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `WHERE provider_id = $1 ORDER BY scheduled_time, id`, providerID)
}

func (r *PgRepository) ListAppointments(ctx context.Context) ([]Appointment, error) {
	return r.listAppointments(ctx, `ORDER BY scheduled_time, id`)
}

func (r *PgRepository) ListUpcoming(ctx context.Context, now time.Time) ([]Appointment, error) {
	return r.listAppointments(ctx, `
		WHERE status <> 'cancelled'
		  AND scheduled_time >= $1
		ORDER BY scheduled_time, id
	`, now)
}

func (r *PgRepository) listAppointments(ctx context.Context, tail string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments `+tail, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

// Units of work

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
}

// InSlotTx takes a transaction-scoped advisory lock on the slot before
// running fn. Concurrent bookings for the same slot queue on the lock, and
// the partial unique index rejects anything that still slips through.
func (r *PgRepository) InSlotTx(ctx context.Context, providerID uuid.UUID, at time.Time, fn func(ctx context.Context, tx Tx) error) error {
	return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, slotLockKey(providerID, at)); err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		return fn(ctx, &pgTx{q: tx})
	})
}

func (r *PgRepository) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

type pgTx struct {
	q queryable
}

func (t *pgTx) CountConflicting(ctx context.Context, providerID uuid.UUID, at time.Time) (int, error) {
	var n int64
	err := t.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE provider_id = $1
		  AND scheduled_time = $2
		  AND status <> 'cancelled'
	`, providerID, at).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t *pgTx) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.ProviderID, a.ScheduledTime, a.DurationMinutes,
		string(a.Status), a.Reason, a.CreatedAt, a.UpdatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return created, nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (t *pgTx) SaveAppointment(ctx context.Context, a *Appointment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    reason = $3,
		    updated_at = $4
		WHERE id = $1
	`, a.ID, string(a.Status), a.Reason, a.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// mapPgError turns constraint violations the schema is built around into
// business errors. Anything else is returned unchanged.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeSlotIndex:
		return ErrSlotConflict
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == appointmentPatientFK:
		return ErrPatientNotFound
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == appointmentProviderFK:
		return ErrProviderNotFound
	}
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
