package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/petcare-scheduling/internal/api"
	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/logger"
)

// SimConfig drives a contention run: every round, Contenders customers try
// to reserve the same free slot at once.
type SimConfig struct {
	APIBaseURL    string `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	Rounds        int    `envconfig:"SIM_ROUNDS" default:"20"`
	Contenders    int    `envconfig:"SIM_CONTENDERS" default:"25"`
	ProviderID    string `envconfig:"SIM_PROVIDER_ID"`
	Date          string `envconfig:"SIM_DATE"`
	LookAheadDays int    `envconfig:"SIM_LOOKAHEAD_DAYS" default:"14"`
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	log     *zap.Logger
	metrics ContentionMetrics
}

func main() {
	log := logger.Must("dev", "info").Named("simulate")
	defer func() { _ = log.Sync() }()

	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if cfg.Rounds <= 0 || cfg.Contenders <= 1 {
		log.Fatal("SIM_ROUNDS must be > 0 and SIM_CONTENDERS > 1")
	}

	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Int("rounds", cfg.Rounds),
		zap.Int("contenders", cfg.Contenders),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := sim.Run(ctx); err != nil {
		log.Fatal("simulation failed", zap.Error(err))
	}
	sim.metrics.Report(os.Stdout, cfg.Contenders)

	if n := sim.metrics.DoubleBooked(); n > 0 {
		log.Fatal("double booking detected", zap.Int("slots", n))
	}
}

func (s *Simulator) Run(ctx context.Context) error {
	providerID := s.config.ProviderID
	if providerID == "" {
		id, err := s.firstProvider(ctx)
		if err != nil {
			return err
		}
		providerID = id
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for round := 0; round < s.config.Rounds; round++ {
		slot, err := s.pickSlot(ctx, providerID, rng)
		if err != nil {
			return errors.Wrapf(err, "round %d", round)
		}
		if slot == nil {
			s.log.Info("no free slots left, stopping", zap.Int("round", round))
			return nil
		}

		winners, err := s.race(ctx, slot.Ref)
		if err != nil {
			return errors.Wrapf(err, "round %d", round)
		}
		s.metrics.RecordRound(winners)
		if winners > 1 {
			s.log.Error("slot reserved more than once", zap.String("slot", slot.Ref), zap.Int("winners", winners))
		}
	}

	s.log.Info("simulation complete")
	return nil
}

func (s *Simulator) firstProvider(ctx context.Context) (string, error) {
	var providers []appointment.Provider
	if _, err := s.getJSON(ctx, s.config.APIBaseURL+"/providers", &providers); err != nil {
		return "", errors.Wrap(err, "list providers")
	}
	if len(providers) == 0 {
		return "", errors.New("no providers, run the seed first")
	}
	return providers[0].ID, nil
}

// pickSlot scans forward from the configured date for a day with free slots
// and picks one at random.
func (s *Simulator) pickSlot(ctx context.Context, providerID string, rng *rand.Rand) (*api.AvailableSlot, error) {
	date := appointment.Date(s.config.Date)
	if date == "" {
		date = appointment.DateOf(time.Now())
	}

	for i := 0; i < s.config.LookAheadDays; i++ {
		day := date.AddDays(i)
		url := fmt.Sprintf("%s/providers/%s/availability?date=%s", s.config.APIBaseURL, providerID, day)

		var avail api.AvailabilityResponse
		start := time.Now()
		status, err := s.getJSON(ctx, url, &avail)
		s.metrics.RecordQuery(time.Since(start), err == nil && status == http.StatusOK)
		if err != nil {
			return nil, errors.Wrap(err, "query availability")
		}
		if len(avail.Slots) > 0 {
			slot := avail.Slots[rng.Intn(len(avail.Slots))]
			return &slot, nil
		}
	}
	return nil, nil
}

// race fires every contender at the same slot and returns how many won.
func (s *Simulator) race(ctx context.Context, ref string) (int, error) {
	results := make([]int, s.config.Contenders)

	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			status, err := s.reserve(gctx, ref)
			if err != nil {
				return err
			}
			results[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	winners := 0
	for _, status := range results {
		if status == http.StatusCreated {
			winners++
		}
	}
	return winners, nil
}

func (s *Simulator) reserve(ctx context.Context, ref string) (int, error) {
	body, _ := json.Marshal(api.ReserveRequest{
		SlotRef: ref,
		Details: appointment.Details{
			Contact: appointment.Contact{
				Name:  gofakeit.Name(),
				Email: gofakeit.Email(),
				Phone: gofakeit.Phone(),
			},
			Reason: "checkup",
			Pet:    &appointment.PetProfile{Name: gofakeit.PetName(), Species: gofakeit.Animal()},
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/reservations", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Identity-Id", gofakeit.UUID())

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.RecordAttempt(latency, outcomeError)
		return 0, nil
	}
	defer resp.Body.Close()

	s.metrics.RecordAttempt(latency, outcomeOf(resp.StatusCode))
	return resp.StatusCode, nil
}

func (s *Simulator) getJSON(ctx context.Context, url string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, errors.Newf("GET %s: status %d", url, resp.StatusCode)
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(v)
}
