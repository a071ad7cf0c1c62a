package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/bootstrap"
	"github.com/hackgods/petcare-scheduling/internal/clock"
	"github.com/hackgods/petcare-scheduling/internal/config"
	"github.com/hackgods/petcare-scheduling/internal/logger"
)

type seedConfig struct {
	Providers int `envconfig:"SEED_PROVIDERS" default:"25"`
}

var specializations = []string{
	"General Practice",
	"Dermatology",
	"Dentistry",
	"Surgery",
	"Exotic Animals",
	"Feline Medicine",
	"Grooming",
	"Behavior",
	"Nutrition",
	"Ophthalmology",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	var seedCfg seedConfig
	if err := envconfig.Process("", &seedCfg); err != nil {
		panic(err)
	}

	log := logger.Must(cfg.Env, cfg.LogLevel).Named("seed")
	defer func() { _ = log.Sync() }()
	log.Info("seed starting", zap.String("store", cfg.StoreDriver), zap.Int("providers", seedCfg.Providers))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, log, clock.NewRealClock())
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedProviders(ctx, app.Store, seedCfg.Providers); err != nil {
		log.Fatal("seed providers", zap.Error(err))
	}

	results, err := app.Generator.GenerateAll(ctx, appointment.DefaultSlotTemplate(), cfg.SlotWindowDays)
	if err != nil {
		log.Fatal("generate slots", zap.Error(err))
	}
	created := 0
	for _, r := range results {
		created += r.Created
	}

	log.Info("seed complete", zap.Int("providers", len(results)), zap.Int("slots_created", created))
}

func seedProviders(ctx context.Context, store appointment.ProviderWriter, count int) error {
	for i := 0; i < count; i++ {
		last := gofakeit.LastName()
		p := appointment.Provider{
			ID:             fmt.Sprintf("dr%s-%03d", strings.ToLower(strings.ReplaceAll(last, " ", "")), i),
			Name:           "Dr. " + last,
			Specialization: specializations[gofakeit.Number(0, len(specializations)-1)],
			FeeCents:       int64(gofakeit.Number(25, 150)) * 100,
			Bio:            fmt.Sprintf("%d years in practice, soft spot for every %s.", gofakeit.Number(2, 30), gofakeit.Animal()),
			Weekly:         randomWeek(),
			AvgRating:      float64(gofakeit.Number(30, 50)) / 10,
			RatingCount:    gofakeit.Number(0, 400),
		}
		if err := store.UpsertProvider(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert provider %s", p.ID)
		}
	}
	return nil
}

// randomWeek opens Monday to Friday, plus Saturday for about half the providers.
func randomWeek() appointment.WeeklyTemplate {
	days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	if gofakeit.Bool() {
		days = append(days, time.Saturday)
	}
	return appointment.Weekdays(days...)
}
