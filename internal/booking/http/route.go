package http

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(g *gin.RouterGroup, h *Handler, authMiddleware, sysAdminMiddleware gin.HandlerFunc) {
	// === Public Routes ===
	// The webhook authenticates by signature, the redirect by session id.
	payments := g.Group("/payments")
	{
		payments.POST("/webhook", h.Webhook)
		payments.GET("/success", h.Success)
	}

	spots := g.Group("/spots")
	{
		spots.GET("/:id/availability", h.Availability)
		spots.POST("/:id/blocks", authMiddleware, h.Block)
	}

	// === Authenticated Routes ===
	bookings := g.Group("/bookings")
	bookings.Use(authMiddleware)
	{
		bookings.POST("/checkout", h.Checkout)
		bookings.POST("", h.Create)
		bookings.GET("", h.List)
		bookings.GET("/:id", h.Get)
		bookings.PATCH("/:id/status", h.UpdateStatus)
		bookings.POST("/:id/cancel", h.Cancel)
		bookings.POST("/:id/checkout", h.CheckoutBooking)
	}

	// === System Admin Routes ===
	admin := g.Group("/admin")
	admin.Use(authMiddleware, sysAdminMiddleware)
	{
		admin.POST("/lifecycle/sweep", h.Sweep)
	}
}
