package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outreach-engine/internal/auth"
	"outreach-engine/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, sessionMW, cronMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Scheduler tick: driven by external cron, guarded by a shared secret
	// rather than a reviewer session.
	r.POST("/v1/tick", cronMW, h.Tick)

	v1 := r.Group("/v1")

	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(sessionMW)
	{
		protected.GET("/me", func(c *gin.Context) {
			id, _ := auth.ReviewerID(c.Request.Context())
			name, _ := auth.ReviewerName(c.Request.Context())
			c.JSON(200, gin.H{"reviewer_id": id, "name": name})
		})

		firstEmails := protected.Group("/first-emails")
		{
			firstEmails.POST("/generate", h.GenerateBatch)
			firstEmails.GET("/stats", h.QueueStats)
		}

		appr := protected.Group("/approval")
		{
			appr.GET("/next", h.ApprovalNext)
			appr.POST("/decision", h.ApprovalDecision)
			appr.POST("/retry-sync", h.RetrySync)
		}

		inb := protected.Group("/inbound")
		{
			inb.GET("/next", h.InboundNext)
			inb.POST("/decision", h.InboundDecision)
		}

		campaigns := protected.Group("/campaigns")
		{
			campaigns.POST("", h.CreateCampaign)
			campaigns.GET("", h.ListCampaigns)
			campaigns.GET("/:id", h.GetCampaign)
			campaigns.POST("/:id/launch", h.LaunchCampaign)
			campaigns.POST("/:id/pause", h.PauseCampaign)
			campaigns.POST("/:id/resume", h.ResumeCampaign)
			campaigns.POST("/:id/advance", h.AdvanceEnrollment)
		}

		protected.GET("/rotation/schedule", h.RotationSchedule)
		protected.GET("/leads/:id/activity", h.LeadActivity)
	}
}
