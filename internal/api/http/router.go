package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Concerns       *handlers.ConcernsHandler
	Requests       *handlers.RequestsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireRole())
	writer := auth.RequireWriter()

	api.Get("/channels", cfg.Requests.Channels)
	api.Get("/notifications/count", cfg.Requests.Counts)

	concerns := api.Group("/concerns")
	concerns.Get("/", cfg.Concerns.List)
	concerns.Post("/", writer, auth.RequireRole(domain.RoleRequestor), cfg.Concerns.Create)
	concerns.Get("/:id", cfg.Concerns.Get)
	concerns.Get("/:id/history", cfg.Concerns.History)

	receiver := auth.RequireRole(domain.RoleReceiver)
	handler := auth.RequireRole(domain.RoleIssueHandler)
	approver := auth.RequireRole(domain.RoleApprover)
	requestor := auth.RequireRole(domain.RoleRequestor)

	concerns.Post("/:id/verify", writer, receiver, cfg.Concerns.Verify)
	concerns.Post("/:id/assign", writer, receiver, cfg.Concerns.Assign)
	concerns.Post("/:id/holds", writer, handler, cfg.Concerns.RequestHold)
	concerns.Post("/:id/holds/approve", writer, approver, cfg.Concerns.ApproveHold)
	concerns.Post("/:id/holds/reject", writer, approver, cfg.Concerns.RejectHold)
	concerns.Post("/:id/holds/resume", writer, handler, cfg.Concerns.ResumeHold)
	concerns.Post("/:id/transfers", writer, handler, cfg.Concerns.RequestTransfer)
	concerns.Post("/:id/transfers/approve", writer, approver, cfg.Concerns.ApproveTransfer)
	concerns.Post("/:id/transfers/reject", writer, approver, cfg.Concerns.RejectTransfer)
	concerns.Post("/:id/closings", writer, handler, cfg.Concerns.RequestClose)
	// Who approves a closing depends on the channel, so the machine checks it.
	concerns.Post("/:id/closings/approve", writer, cfg.Concerns.ApproveClose)
	concerns.Post("/:id/closings/disapprove", writer, cfg.Concerns.DisapproveClose)
	concerns.Post("/:id/cancel", writer, requestor, cfg.Concerns.Cancel)
	concerns.Post("/:id/confirm", writer, requestor, cfg.Concerns.Confirm)

	api.Get("/holds", cfg.Requests.ListHolds)
	api.Get("/transfers", cfg.Requests.ListTransfers)
	api.Get("/closings", cfg.Requests.ListClosings)
	api.Post("/closings/approve", writer, cfg.Requests.ApproveClosings)
}
