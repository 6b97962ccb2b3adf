package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekogravitycat/campsite-booking-backend/internal/auth"
	bookingHttp "github.com/nekogravitycat/campsite-booking-backend/internal/booking/http"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
)

type staticAdmins map[string]bool

func (a staticAdmins) IsSystemAdmin(_ context.Context, userID string) (bool, error) {
	ok, found := a[userID]
	if !found {
		return false, errors.New("no such user")
	}
	return ok, nil
}

func TestRequireSystemAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwt := auth.NewJWTManager("middleware-test-secret", time.Hour)
	admins := staticAdmins{"admin": true, "renter": false}

	r := gin.New()
	r.GET("/admin", auth.AuthRequired(jwt), RequireSystemAdmin(admins), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		userID   string
		wantCode int
	}{
		{"admin passes", "admin", http.StatusNoContent},
		{"regular user is forbidden", "renter", http.StatusForbidden},
		{"unknown user", "ghost", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.GenerateAccessToken(tt.userID, tt.userID+"@example.com")
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestPrometheusMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	r := gin.New()
	r.Use(PrometheusMiddleware(m))
	r.GET("/bookings/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/bookings/a", "/bookings/b", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/bookings/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestRouterHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Config{
		BookingHandler: bookingHttp.NewHandler(nil, nil, nil, nil, time.Hour),
		JWTManager:     auth.NewJWTManager("router-test-secret", time.Hour),
		Metrics:        metrics.NewNop(),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/bookings/checkout", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitOrigins(" https://a.example, ,https://b.example"))
	assert.Nil(t, splitOrigins(""))
}
