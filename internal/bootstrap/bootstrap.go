// Package bootstrap wires the store, cache and scheduling components from
// configuration. Every binary under cmd/ builds on it.
package bootstrap

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/booking"
	"github.com/hackgods/petcare-scheduling/internal/clock"
	"github.com/hackgods/petcare-scheduling/internal/config"
	"github.com/hackgods/petcare-scheduling/internal/db"
	redisclient "github.com/hackgods/petcare-scheduling/internal/redis"
)

const defaultRetryDelay = 50 * time.Millisecond

// Store is what every backend provides.
type Store interface {
	appointment.Repository
	appointment.ProviderWriter
}

// Check reports whether a dependency is reachable. An Optional dependency
// being down degrades the service instead of failing it.
type Check struct {
	Name     string
	Optional bool
	Ping     func(ctx context.Context) error
}

type App struct {
	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock

	Store        Store
	Cache        appointment.AvailabilityCache
	Generator    *appointment.Generator
	Availability *appointment.Availability
	Coordinator  *appointment.Coordinator
	Sessions     *booking.Sessions

	// Checks holds one readiness probe per external dependency.
	Checks []Check

	closers []func()
}

// New connects to the configured backends. The caller must Close the app.
func New(ctx context.Context, cfg config.Config, log *zap.Logger, clk clock.Clock) (*App, error) {
	app := &App{
		Config: cfg,
		Log:    log,
		Clock:  clk,
	}

	if err := app.openStore(ctx); err != nil {
		app.Close()
		return nil, err
	}

	var sessions booking.SessionStore
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			app.Close()
			return nil, errors.Wrap(err, "connect redis")
		}
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		app.Checks = append(app.Checks, Check{Name: "redis", Optional: true, Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		app.Cache = redisclient.NewAvailabilityCache(rdb, cfg.AvailabilityCacheTTL.Std(), log.Named("cache"))
		sessions = redisclient.NewSessionStore(rdb, cfg.DraftTTL.Std())
	} else {
		log.Warn("redis not configured, availability cache disabled and booking sessions kept in memory")
		app.Cache = appointment.NopCache()
		sessions = booking.NewMemorySessionStore(cfg.DraftTTL.Std(), clk)
	}

	app.wire(sessions)
	return app, nil
}

// NewInMemory wires every component over in-memory storage.
func NewInMemory(cfg config.Config, log *zap.Logger, clk clock.Clock) *App {
	app := &App{
		Config: cfg,
		Log:    log,
		Clock:  clk,
		Store:  appointment.NewMemoryRepository(),
		Cache:  appointment.NopCache(),
	}
	app.wire(booking.NewMemorySessionStore(cfg.DraftTTL.Std(), clk))
	return app
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.ConnectPostgres(ctx, a.Config.PostgresDSN)
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		a.closers = append(a.closers, pool.Close)
		a.Checks = append(a.Checks, Check{Name: "postgres", Ping: pool.Ping})
		a.Store = appointment.NewPgRepository(pool)

	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, a.Config.MongoURI)
		if err != nil {
			return errors.Wrap(err, "connect mongo")
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		a.Checks = append(a.Checks, Check{Name: "mongo", Ping: func(ctx context.Context) error { return client.Ping(ctx, nil) }})

		repo := appointment.NewMongoRepository(client.Database(a.Config.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return errors.Wrap(err, "ensure mongo indexes")
		}
		a.Store = repo

	case config.DriverMemory:
		a.Store = appointment.NewMemoryRepository()

	default:
		return errors.Newf("unknown store driver %q", a.Config.StoreDriver)
	}

	a.Log.Info("store ready", zap.String("driver", a.Config.StoreDriver))
	return nil
}

func (a *App) wire(sessions booking.SessionStore) {
	a.Generator = appointment.NewGenerator(a.Store, a.Cache, a.Clock, a.Log.Named("generator"),
		appointment.WithMaxWindowDays(a.Config.SlotMaxWindowDays))
	a.Availability = appointment.NewAvailability(a.Store, a.Cache, a.Clock, a.Log.Named("availability"))
	a.Coordinator = appointment.NewCoordinator(a.Store, a.Cache, a.Clock, a.Log.Named("coordinator"),
		appointment.WithAppointmentWriteRetries(a.Config.AppointmentWriteRetries, defaultRetryDelay),
	)
	a.Sessions = booking.NewSessions(sessions, booking.Deps{
		Directory:    a.Store,
		Availability: a.Availability,
		Reserver:     a.Coordinator,
		Clock:        a.Clock,
		Log:          a.Log.Named("booking"),
	})
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
