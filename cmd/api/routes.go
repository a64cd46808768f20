package main

import (
	"database/sql"
	"net/http"
	"time"

	"dialdesk/internal/auth"
	"dialdesk/internal/config"
	"dialdesk/internal/httpapi"
	"dialdesk/internal/rbac"
	"dialdesk/internal/realtime"
	"dialdesk/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	cfg      config.Config
	db       *sql.DB
	auth     *auth.Manager
	hub      *realtime.Hub
	handlers httpapi.Handlers
	webhooks httpapi.Webhooks
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by provider signature validation in production.
	r.POST("/webhook", d.webhooks.Combined)
	r.POST("/webhook/inbound", d.webhooks.Inbound)

	// OAuth entry points are public by nature.
	r.GET("/auth/login", d.handlers.Login)
	r.GET("/auth/callback", d.handlers.Callback)
	r.POST("/auth/refresh", d.handlers.Refresh)

	// Realtime push. Token also accepted as a query parameter; see RealtimeAuth.
	r.GET("/api/realtime", httpapi.RealtimeAuth(d.auth), d.hub.Serve)

	// protected API group
	api := r.Group("/api")
	api.Use(auth.RequireAccessToken(d.auth))
	{
		api.GET("/me", d.handlers.Me)

		callsGroup := api.Group("/calls")
		{
			callsGroup.GET("", d.handlers.ListCalls)
			callsGroup.GET("/history", d.handlers.CallHistoryList)
			callsGroup.GET("/:id", d.handlers.GetCall)
			callsGroup.POST("/start", d.handlers.StartCall)
			callsGroup.POST("/answer/:id", d.handlers.AnswerCall)
			callsGroup.POST("/reject/:id", d.handlers.RejectCall)
			callsGroup.POST("/end/:id", d.handlers.EndCall)
		}

		billingGroup := api.Group("/billing")
		{
			billingGroup.POST("/checkout", d.handlers.Checkout)
			billingGroup.GET("/subscription", d.handlers.GetSubscription)
		}

		admin := api.Group("/admin")
		admin.Use(rbac.RequireAdmin())
		{
			admin.PUT("/users/:id/role", d.handlers.UpdateUserRole)
		}
	}
}
