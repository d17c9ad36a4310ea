package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsrelay/opsrelay/cmd/gateway/container"
	"github.com/opsrelay/opsrelay/cmd/gateway/handlers"
)

// RegisterWebhookRoutes registers the intake surface
func RegisterWebhookRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWebhookHandler(c.IntakeService)
	e.POST("/webhooks/:source", h.Receive)
}

// RegisterApprovalRoutes registers the approval lifecycle
func RegisterApprovalRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewApprovalHandler(c.ApprovalService)

	approvals := e.Group("/v1/approvals")
	{
		approvals.POST("/propose", h.Propose)
		approvals.GET("", h.List)
		approvals.GET("/:id", h.Get)
		approvals.POST("/:id/decision", h.Decide)
	}
}

// RegisterWorkflowRoutes registers the run/queue surface
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c.WorkflowService)

	workflows := e.Group("/v1/workflows")
	{
		workflows.POST("/run", h.Run)
		workflows.GET("/jobs", h.ListJobs)
		workflows.GET("/jobs/:id", h.GetJob)
		workflows.DELETE("/jobs/:id", h.CancelJob)
	}
}

// RegisterSignalRoutes registers one-shot evaluation endpoints
func RegisterSignalRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSignalHandler(c.SignalEval, c.RulesLoader)

	e.POST("/v1/signals/evaluate", h.Evaluate)
	e.POST("/v1/evals/run", h.RunEvals)
}

// RegisterPolicyRoutes registers direct policy evaluation
func RegisterPolicyRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPolicyHandler(c.PolicyEval)
	e.POST("/v1/policy/evaluate", h.Evaluate)
}

// RegisterMetricsRoutes registers DORA pass-throughs, quota usage, and the
// Prometheus scrape endpoint
func RegisterMetricsRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewMetricsHandler(c.DORARepo, c.Quotas)

	dora := e.Group("/v1/metrics/dora")
	{
		dora.GET("/deployment-frequency", h.DeploymentFrequency)
		dora.GET("/lead-time", h.LeadTime)
		dora.GET("/change-fail-rate", h.ChangeFailRate)
		dora.GET("/mttr", h.MTTR)
	}

	e.GET("/v1/metrics/quotas", h.Quotas)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		c.Components.Metrics.Registry,
		promhttp.HandlerOpts{},
	)))
}

// RegisterIdentityRoutes registers identity mapping endpoints
func RegisterIdentityRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewIdentityHandler(c.IdentityRepo)

	e.PUT("/v1/identities", h.Upsert)
	e.GET("/v1/identities/:type/:id", h.Lookup)
}

// RegisterHealthRoutes registers liveness and readiness probes
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c.Components)

	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
}
