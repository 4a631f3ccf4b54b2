package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-chat/internal/api/http/handlers"
	"github.com/spec-kit/support-chat/internal/api/ws"
	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Socket         *ws.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	if cfg.Socket != nil {
		app.Get("/ws", cfg.Socket.Upgrade, cfg.Socket.Serve())
	}

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", cfg.Users.Signup)
	authGroup.Post("/login", cfg.Users.Login)
	authGroup.Post("/logout", cfg.AuthMiddleware.Handle, cfg.Users.Logout)
	authGroup.Post("/change-password", cfg.AuthMiddleware.Handle, cfg.Users.ChangePassword)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, cfg.Users.Me)

	users := api.Group("/users", cfg.AuthMiddleware.Handle)
	users.Post("/bulk", auth.RequireStaff(), cfg.Users.BulkUsers)
	users.Get("/:id", cfg.Users.GetUser)

	admin := api.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin))
	admin.Post("/members", cfg.Users.CreateMember)
	admin.Get("/tickets/export", cfg.Tickets.ExportTickets)

	tickets := api.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/accept", cfg.Tickets.AcceptTicket)
	tickets.Post("/:id/reject", cfg.Tickets.RejectTicket)
	tickets.Put("/:id/close", cfg.Tickets.CloseTicket)
	tickets.Post("/:id/reopen", cfg.Tickets.ReopenTicket)

	chats := api.Group("/chats", cfg.AuthMiddleware.Handle)
	chats.Get("/:id", cfg.Tickets.ListMessages)
	chats.Post("/:id", cfg.Tickets.PostMessage)
}
