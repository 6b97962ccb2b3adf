package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nekogravitycat/campsite-booking-backend/internal/api"
	"github.com/nekogravitycat/campsite-booking-backend/internal/auth"
	"github.com/nekogravitycat/campsite-booking-backend/internal/booking"
	bookingHttp "github.com/nekogravitycat/campsite-booking-backend/internal/booking/http"
	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/payment"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/lock"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
	"github.com/nekogravitycat/campsite-booking-backend/internal/spot"
	"github.com/nekogravitycat/campsite-booking-backend/internal/user"
	"github.com/nekogravitycat/campsite-booking-backend/internal/worker"
)

// Config holds the dependencies and settings required to start the application.
// Connections are opened by the caller; the container only wires them together.
type Config struct {
	IsProduction bool
	ProdOrigins  string
	DBPool       *pgxpool.Pool
	JWTSecret    string

	Gateway  payment.Gateway
	Notifier notification.Notifier
	// Locks is optional. Without it every instance runs the sweeps.
	Locks   *lock.Manager
	Metrics *metrics.Metrics

	Currency      string
	FeePercent    int64
	PendingExpiry time.Duration
	SweepSchedule string
}

// Container holds the initialized components that are needed externally.
type Container struct {
	Router      *gin.Engine
	JWTManager  *auth.JWTManager
	Coordinator *booking.Coordinator
	Lifecycle   *booking.Lifecycle
	Cron        *worker.LifecycleCron
}

// NewContainer initializes all modules and returns the container.
func NewContainer(cfg Config) *Container {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.NewLogNotifier()
	}

	// Tokens are issued by the auth provider, so no TTL applies here.
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, 0)

	// User Module
	userRepo := user.NewPgxRepository(cfg.DBPool)
	userService := user.NewService(userRepo)

	// Spot Module
	spotRepo := spot.NewPgxRepository(cfg.DBPool)
	spotService := spot.NewService(spotRepo)

	// Booking Module
	bookingRepo := booking.NewPgxRepository(cfg.DBPool)
	checker := booking.NewAvailabilityChecker(bookingRepo)
	bookingService := booking.NewService(bookingRepo, checker, spotService, cfg.Notifier)
	coordinator := booking.NewCoordinator(bookingRepo, checker, cfg.Gateway, spotService, cfg.Notifier, cfg.Metrics, booking.CoordinatorConfig{
		Currency:   cfg.Currency,
		FeePercent: cfg.FeePercent,
	})
	lifecycle := booking.NewLifecycle(bookingRepo, cfg.Notifier, cfg.Metrics, nil)

	bookingHandler := bookingHttp.NewHandler(bookingService, coordinator, lifecycle, userService, cfg.PendingExpiry)

	// Background sweeps
	cron := worker.NewLifecycleCron(lifecycle, cfg.Locks, worker.LifecycleConfig{
		Schedule:      cfg.SweepSchedule,
		PendingExpiry: cfg.PendingExpiry,
	})

	// Router
	router := api.NewRouter(api.Config{
		IsProduction:   cfg.IsProduction,
		ProdOrigins:    cfg.ProdOrigins,
		UserService:    userService,
		SpotService:    spotService,
		BookingHandler: bookingHandler,
		JWTManager:     jwtManager,
		Metrics:        cfg.Metrics,
	})

	return &Container{
		Router:      router,
		JWTManager:  jwtManager,
		Coordinator: coordinator,
		Lifecycle:   lifecycle,
		Cron:        cron,
	}
}
