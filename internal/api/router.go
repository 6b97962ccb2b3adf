package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nekogravitycat/campsite-booking-backend/internal/auth"
	bookingHttp "github.com/nekogravitycat/campsite-booking-backend/internal/booking/http"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
	"github.com/nekogravitycat/campsite-booking-backend/internal/spot"
	spotHttp "github.com/nekogravitycat/campsite-booking-backend/internal/spot/http"
	"github.com/nekogravitycat/campsite-booking-backend/internal/user"
)

// Config holds everything the router needs to mount the module handlers.
type Config struct {
	IsProduction bool
	ProdOrigins  string

	UserService    user.Service
	SpotService    spot.Service
	BookingHandler *bookingHttp.Handler
	JWTManager     *auth.JWTManager
	Metrics        *metrics.Metrics
}

// NewRouter initializes the HTTP router engine.
// It assembles middleware (recovery, logging, metrics, CORS, auth) and registers module routes.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global Middleware:
	// - Recovery: Captures panics to prevent server crashes and returns a 500 error.
	// - RequestLogger: Structured access log through zap.
	// - Prometheus: Request count and latency per route.
	r.Use(gin.Recovery(), RequestLogger(), PrometheusMiddleware(cfg.Metrics))

	// Configure CORS (Cross-Origin Resource Sharing).
	config := cors.DefaultConfig()
	if cfg.IsProduction {
		config.AllowOrigins = splitOrigins(cfg.ProdOrigins)
	} else {
		config.AllowOrigins = []string{
			"http://localhost:3000", // Frontend
			"http://localhost:8081", // Swagger
		}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	config.MaxAge = 12 * time.Hour
	r.Use(cors.New(config))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// authMiddleware: Validates if the request contains a valid JWT.
	authMiddleware := auth.AuthRequired(cfg.JWTManager)
	// sysAdminMiddleware: Further checks if the authenticated user has System Admin privileges.
	sysAdminMiddleware := RequireSystemAdmin(cfg.UserService)

	spotHandler := spotHttp.NewHandler(cfg.SpotService)

	// Register API routes under /v1
	v1 := r.Group("/v1")
	{
		spotHttp.RegisterRoutes(v1, spotHandler, authMiddleware)
		bookingHttp.RegisterRoutes(v1, cfg.BookingHandler, authMiddleware, sysAdminMiddleware)
	}

	return r
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
