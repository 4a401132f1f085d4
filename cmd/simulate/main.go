package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/api"
	"github.com/hackgods/healthbook-scheduling/internal/auth"
	"github.com/hackgods/healthbook-scheduling/internal/authz"
	"github.com/hackgods/healthbook-scheduling/internal/config"
	"github.com/hackgods/healthbook-scheduling/internal/logging"
)

// SimConfig drives a contention run against a live api-server. A small
// number of hot slots is shared by all workers so double-booking attempts
// are frequent.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	CancelRatio  float64
	ReadRatio    float64
	HotSlots     int
	JWTSecret    string
	TokenTTL     time.Duration
}

type booked struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
}

type DataPool struct {
	Patients  []uuid.UUID
	Providers []uuid.UUID
	Slots     []time.Time

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) add(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) random(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && (status == http.StatusConflict || status == http.StatusServiceUnavailable):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	sorted := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	return sum / time.Duration(len(sorted)), om.percentile(sorted, 50), om.percentile(sorted, 95), sorted[len(sorted)-1]
}

type Metrics struct {
	Booking OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     zerolog.Logger
	metrics Metrics

	tokenMu sync.Mutex
	tokens  map[string]string
}

func main() {
	base, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(base.Env, base.LogLevel)

	cfg := loadConfig(base)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid simulator config")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
		tokens: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dataPool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = dataPool

	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("providers", len(dataPool.Providers)).
		Int("hot_slots", len(dataPool.Slots)).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Msg("simulation starting")

	sim.Run()
	sim.PrintReport()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sim.verifyNoDoubleBooking(ctx); err != nil {
		logger.Error().Err(err).Msg("double-booking check failed")
		os.Exit(1)
	}
	logger.Info().Msg("no provider slot holds more than one active appointment")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.15),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.25),
		HotSlots:     getInt("SIM_HOT_SLOTS", 4),
		JWTSecret:    base.JWTSecret,
		TokenTTL:     base.TokenTTL,
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return errors.New("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

// token returns a cached bearer token for actor.
func (s *Simulator) token(actor authz.Actor) string {
	key := actor.String()

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if tok, ok := s.tokens[key]; ok {
		return tok
	}
	tok, err := auth.MakeToken(actor, s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		s.log.Fatal().Err(err).Msg("make token")
	}
	s.tokens[key] = tok
	return tok
}

func (s *Simulator) call(ctx context.Context, actor authz.Actor, method, path string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(actor))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var opts api.BookingOptionsResponse
	status, err := s.call(ctx, authz.Admin(), http.MethodGet, "/booking-options", nil, &opts)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GET /booking-options: status %d", status)
	}

	dp := &DataPool{}
	for _, p := range opts.Patients {
		dp.Patients = append(dp.Patients, p.ID)
	}
	for _, p := range opts.Providers {
		dp.Providers = append(dp.Providers, p.ID)
	}
	if len(dp.Patients) == 0 || len(dp.Providers) == 0 {
		return nil, errors.New("need at least one patient and one provider, run the seeder first")
	}

	// Hot slots start tomorrow on the hour, one hour apart.
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	for i := 0; i < s.config.HotSlots; i++ {
		dp.Slots = append(dp.Slots, start.Add(time.Duration(i)*time.Hour))
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	at := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	var resp api.AppointmentResponse
	start := time.Now()
	status, err := s.call(ctx, authz.Patient(patientID), http.MethodPost, "/appointments", api.CreateAppointmentRequest{
		PatientID:     patientID.String(),
		ProviderID:    providerID.String(),
		ScheduledTime: at.Format(time.RFC3339),
		Reason:        "simulated",
	}, &resp)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusCreated {
		s.pool.add(booked{ID: resp.ID, ProviderID: resp.ProviderID})
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.random(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, authz.Provider(b.ProviderID), http.MethodPost,
		fmt.Sprintf("/appointments/%s/confirm", b.ID), nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Confirm.Record(time.Since(start), status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.random(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, authz.Provider(b.ProviderID), http.MethodPost,
		fmt.Sprintf("/appointments/%s/cancel", b.ID), nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(time.Since(start), status, err)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	path := "/appointments/upcoming"
	actor := authz.Patient(s.pool.Patients[rng.Intn(len(s.pool.Patients))])
	if b, ok := s.pool.random(rng); ok && rng.Intn(2) == 0 {
		path = "/appointments/" + b.ID.String()
		actor = authz.Provider(b.ProviderID)
	}

	start := time.Now()
	status, err := s.call(ctx, actor, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Read.Record(time.Since(start), status, err)
}

// verifyNoDoubleBooking lists every appointment as admin and fails if two
// active ones share a provider and start time.
func (s *Simulator) verifyNoDoubleBooking(ctx context.Context) error {
	var list api.ListAppointmentsResponse
	status, err := s.call(ctx, authz.Admin(), http.MethodGet, "/appointments", nil, &list)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET /appointments: status %d", status)
	}

	seen := make(map[string]uuid.UUID)
	for _, a := range list.Appointments {
		if a.Status == "cancelled" {
			continue
		}
		key := a.ProviderID.String() + "@" + a.ScheduledTime.UTC().Format(time.RFC3339)
		if other, ok := seen[key]; ok {
			return fmt.Errorf("appointments %s and %s both hold %s", other, a.ID, key)
		}
		seen[key] = a.ID
	}
	return nil
}

func (s *Simulator) PrintReport() {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s  Workers: %d  Hot slots: %d\n\n", s.config.Duration, s.config.Workers, s.config.HotSlots)

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Rejected (409/503): %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
