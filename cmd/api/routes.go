package main

import (
	"database/sql"
	"net/http"
	"time"

	"callcredits-platform/internal/httpapi"
	"callcredits-platform/internal/rbac"
	"callcredits-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Token issuance for already-authenticated principals.
	r.POST("/v1/auth/token", h.IssueToken)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CALL routes
		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleUser, rbac.RoleAdmin))
		{
			callsGroup.POST("/events", h.HandleCallEvent)
			callsGroup.GET("/:call_id", h.GetCall)
		}

		// BALANCE routes
		balance := v1.Group("/balance")
		balance.Use(rbac.RequireAnyRole(rbac.RoleUser, rbac.RoleAdmin))
		{
			balance.GET("", h.GetBalance)
			balance.GET("/ledger", h.ListLedger)
		}

		// REFERRAL routes
		referrals := v1.Group("/referrals")
		referrals.Use(rbac.RequireAnyRole(rbac.RoleUser, rbac.RoleAdmin))
		{
			referrals.POST("/reward", h.RewardReferral)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/balances/:user_id/reset", h.AdminResetBalance)
			admin.POST("/balances/:user_id/reward", h.AdminGrantReward)
			admin.POST("/reconcile", h.AdminReconcile)
			admin.POST("/calls/sweep-stale", h.AdminSweepStale)
			admin.GET("/calls/:call_id/events", h.ListCallEvents)
			admin.GET("/settings", h.AdminListSettings)
			admin.PUT("/settings", h.AdminSetSetting)
			admin.GET("/reports/calls", h.AdminCallsReport)
			admin.GET("/reports/spend", h.AdminSpendReport)
		}
	}
}
