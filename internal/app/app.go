package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/EpicMandM/evcharge-booking/internal/clock"
	"github.com/EpicMandM/evcharge-booking/internal/config"
	"github.com/EpicMandM/evcharge-booking/internal/handler"
	"github.com/EpicMandM/evcharge-booking/internal/lock"
	"github.com/EpicMandM/evcharge-booking/internal/logger"
	"github.com/EpicMandM/evcharge-booking/internal/service"
	"github.com/EpicMandM/evcharge-booking/internal/store"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config   *config.Config
	logger   *logger.Logger
	clock    clock.Clock
	store    store.Store
	redis    *redis.Client
	bookings *service.BookingService
	stations *service.StationService
	handler  http.Handler
}

func New(cfg *config.Config, log *logger.Logger) *App {
	if log == nil {
		log = logger.Discard()
	}
	return &App{
		config: cfg,
		logger: log,
		clock:  clock.Real{},
	}
}

// Initialize opens the configured store and locker and builds the HTTP stack.
func (a *App) Initialize(ctx context.Context) error {
	policy, err := service.LoadPolicy(a.config.PolicyPath)
	if err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.store = st

	locker, err := a.openLocker(ctx)
	if err != nil {
		_ = st.Close()
		return err
	}

	a.bookings = service.NewBookingService(a.logger, st, st, policy,
		service.WithClock(a.clock),
		service.WithLocker(locker),
	)
	a.stations = service.NewStationService(a.logger, st, st, locker, policy)

	api := handler.NewAPIHandler(a.bookings, a.stations, handler.NewAuthenticator(a.config.JWTSecret), a.logger)
	limiter := handler.NewRateLimiter(a.config.RateLimitRPS, a.config.RateLimitBurst)
	a.handler = handler.Logging(a.logger, handler.SecurityHeaders(limiter.Limit(api.Router())))

	a.logger.Info("Application initialized",
		logger.F("STORE", a.config.StoreDriver),
		logger.F("LOCKER", fmt.Sprintf("%T", locker)),
		logger.F("LEAD_TIME", policy.LeadTime.Duration),
		logger.F("ADVANCE_LIMIT", policy.AdvanceLimit.Duration),
	)
	return nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	switch a.config.StoreDriver {
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(a.config.SQLitePath, a.clock)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverMongo:
		s, err := store.NewMongoStore(ctx, a.config.MongoURI, a.config.MongoDatabase, a.clock)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(a.clock), nil
	}
}

func (a *App) openLocker(ctx context.Context) (service.Locker, error) {
	if a.config.RedisURL == "" {
		if a.config.StoreDriver == config.DriverMongo {
			a.logger.Warn("REDIS_URL not set, station locks are local to this process")
		}
		return lock.NewKeyed(), nil
	}
	client, err := lock.DialRedis(ctx, a.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = client
	return lock.NewRedis(client, 0), nil
}

// Handler returns the HTTP stack. It is nil before Initialize.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	a.logger.Info("Application closed")
	return errors.Join(errs...)
}
