// Package seed fills a store with fake patients and providers for demos and
// load simulation.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/appointment"
	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

var Specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Store is implemented by both the Postgres and the in-memory repositories.
type Store interface {
	CreatePatient(ctx context.Context, p appointment.Patient) (*appointment.Patient, error)
	CreateProvider(ctx context.Context, p appointment.Provider) (*appointment.Provider, error)
}

type Result struct {
	Patients  []appointment.Patient
	Providers []appointment.Provider
}

type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator returns a generator. A zero seed picks a random one, any
// other seed gives the same records on every run.
func NewGenerator(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

func (g *Generator) Patient(i int) appointment.Patient {
	first, last := g.faker.FirstName(), g.faker.LastName()
	phone := g.faker.Phone()
	birth := g.faker.DateRange(
		time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
	).UTC().Truncate(24 * time.Hour)

	return appointment.Patient{
		ID:        uuid.New(),
		FirstName: first,
		LastName:  last,
		Email:     email(first, last, "p", i, g.faker.DomainName()),
		Phone:     &phone,
		BirthDate: &birth,
	}
}

func (g *Generator) Provider(i int) appointment.Provider {
	first, last := g.faker.FirstName(), g.faker.LastName()
	phone := g.faker.Phone()

	return appointment.Provider{
		ID:        uuid.New(),
		FirstName: first,
		LastName:  last,
		Specialty: Specialties[g.faker.Number(0, len(Specialties)-1)],
		Email:     email(first, last, "dr", i, g.faker.DomainName()),
		Phone:     &phone,
	}
}

// email is unique per index so reruns against the same database never trip
// the unique constraint within one batch.
func email(first, last, prefix string, i int, domain string) string {
	local := strings.ToLower(fmt.Sprintf("%s.%s.%s%d.%s", first, last, prefix, i, uuid.NewString()[:8]))
	local = strings.NewReplacer(" ", "", "'", "").Replace(local)
	return local + "@" + domain
}

// Run inserts the requested number of providers and patients.
func Run(ctx context.Context, store Store, g *Generator, providers, patients int, log zerolog.Logger) (Result, error) {
	var res Result

	log.Info().Int("count", providers).Msg("seeding providers")
	for i := 0; i < providers; i++ {
		p, err := store.CreateProvider(ctx, g.Provider(i))
		if err != nil {
			return res, fmt.Errorf("create provider %d: %w", i, err)
		}
		res.Providers = append(res.Providers, *p)
	}

	log.Info().Int("count", patients).Msg("seeding patients")
	for i := 0; i < patients; i++ {
		p, err := store.CreatePatient(ctx, g.Patient(i))
		if err != nil {
			return res, fmt.Errorf("create patient %d: %w", i, err)
		}
		res.Patients = append(res.Patients, *p)

		if (i+1)%500 == 0 {
			log.Info().Int("done", i+1).Int("total", patients).Msg("patients seeded")
		}
	}

	return res, nil
}

// SampleActors returns an admin plus the first seeded provider and patient,
// the callers a demo token is minted for.
func (r Result) SampleActors() []authz.Actor {
	actors := []authz.Actor{authz.Admin()}
	if len(r.Providers) > 0 {
		actors = append(actors, authz.Provider(r.Providers[0].ID))
	}
	if len(r.Patients) > 0 {
		actors = append(actors, authz.Patient(r.Patients[0].ID))
	}
	return actors
}
