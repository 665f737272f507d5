package routes

import (
	"time"

	"github.com/ahmetk3436/inkwell/internal/config"
	"github.com/ahmetk3436/inkwell/internal/handlers"
	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	chatHandler *handlers.ChatHandler,
	noteHandler *handlers.NoteHandler,
	taskHandler *handlers.TaskHandler,
	teamHandler *handlers.TeamHandler,
	auditHandler *handlers.AuditHandler,
	systemHandler *handlers.SystemHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/register", authHandler.Register)
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	api.Get("/auth/me", authHandler.Me)
	api.Put("/auth/password", authHandler.ChangePassword)

	api.Get("/dashboard/overview", systemHandler.DashboardOverview)
	api.Get("/system/info", systemHandler.Info)

	// Teams
	api.Get("/teams", teamHandler.ListTeams)
	api.Post("/teams", teamHandler.CreateTeam)
	api.Get("/teams/:id/members", teamHandler.ListMembers)
	api.Post("/teams/:id/members", teamHandler.AddMember)
	api.Delete("/teams/:id/members/:userId", teamHandler.RemoveMember)

	// Notes
	api.Get("/notes", noteHandler.ListNotes)
	api.Get("/notes/tree", noteHandler.Tree)
	api.Post("/notes", noteHandler.CreateNote)
	api.Get("/notes/:id", noteHandler.GetNote)
	api.Put("/notes/:id", noteHandler.UpdateNote)
	api.Delete("/notes/:id", noteHandler.DeleteNote)

	// Tasks
	api.Get("/tasks", taskHandler.ListTasks)
	api.Post("/tasks", taskHandler.CreateTask)
	api.Get("/tasks/:id", taskHandler.GetTask)
	api.Put("/tasks/:id", taskHandler.UpdateTask)
	api.Post("/tasks/:id/move", taskHandler.MoveTask)
	api.Delete("/tasks/:id", taskHandler.DeleteTask)

	// Audit
	api.Get("/audit", auditHandler.ListAuditLogs)

	// Chat
	chat := api.Group("/chat")
	chat.Get("/models", chatHandler.Models)
	chat.Get("/conversations", chatHandler.ListConversations)
	chat.Get("/conversations/:id", chatHandler.GetConversation)
	chat.Put("/conversations/:id", chatHandler.UpdateConversation)
	chat.Delete("/conversations/:id", chatHandler.DeleteConversation)

	limit := turnLimiter(cfg.ChatRateLimit)
	chat.Post("/ask", limit, chatHandler.Ask)
	chat.Post("/agent", limit, chatHandler.Agent)

	// Chat (WebSocket)
	chat.Use("/ws", chatHandler.UpgradeCheck())
	chat.Get("/ws", chatHandler.HandleWebSocket())
}

// turnLimiter caps chat turns per user per minute. perMinute <= 0
// disables it.
func turnLimiter(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return middleware.UserID(c).String()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   true,
				"message": "Too many chat requests, slow down",
			})
		},
	})
}
