package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmetk3436/inkwell/internal/chat"
	"github.com/ahmetk3436/inkwell/internal/config"
	"github.com/ahmetk3436/inkwell/internal/database"
	"github.com/ahmetk3436/inkwell/internal/handlers"
	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/routes"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/ahmetk3436/inkwell/internal/tools"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Inkwell", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, chat turns will fail")
	}

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg); err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(database.DB); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	db := database.DB

	// ─── Services ───────────────────────────────────────────────────────
	teams := services.NewTeamService(db)
	users := services.NewUserService(db)
	notes := services.NewNoteService(db, teams)
	tasks := services.NewTaskService(db, teams)
	store := services.NewConversationStore(db, teams)
	audit := services.NewAuditService(db)

	// ─── Tools ──────────────────────────────────────────────────────────
	var cache *tools.ResultCache
	if cfg.ScrapeCachePath != "" {
		var err error
		cache, err = tools.OpenResultCache(cfg.ScrapeCachePath, cfg.ScrapeCacheTTL)
		if err != nil {
			slog.Error("Failed to open tool result cache", "path", cfg.ScrapeCachePath, "error", err)
			os.Exit(1)
		}
		cache.Start(cfg.ScrapeCacheTTL / 4)
	} else {
		slog.Warn("SCRAPE_CACHE_PATH not set, scraped pages will not be cached")
	}
	registry := tools.NewDefaultRegistry(cfg, notes, tasks, cache)

	// ─── Chat ───────────────────────────────────────────────────────────
	model := llm.NewOpenAIClient(cfg.OpenAIAPIURL, cfg.OpenAIAPIKey, &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second},
	})
	orchestrator := chat.NewOrchestrator(chat.Config{
		DefaultModel:  cfg.DefaultModel,
		MaxToolRounds: cfg.MaxToolRounds,
	}, store, teams, notes, registry, model)

	turnCtx, cancelTurns := context.WithCancel(context.Background())

	// ─── Handlers ───────────────────────────────────────────────────────
	authHandler := handlers.NewAuthHandler(cfg, users, teams, audit)
	chatHandler := handlers.NewChatHandler(turnCtx, orchestrator, store, audit)
	noteHandler := handlers.NewNoteHandler(notes, audit)
	taskHandler := handlers.NewTaskHandler(tasks, audit)
	teamHandler := handlers.NewTeamHandler(teams, audit)
	auditHandler := handlers.NewAuditHandler(audit)
	systemHandler := handlers.NewSystemHandler(db, registry)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "inkwell v" + handlers.Version,
		ServerHeader: "inkwell",
		BodyLimit:    2 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	app.Use(requestid.New())

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
			"request_id", c.Locals("requestid"),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, chatHandler, noteHandler, taskHandler,
		teamHandler, auditHandler, systemHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Inkwell...")

		cancelTurns()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if cache != nil {
			if err := cache.Close(); err != nil {
				slog.Error("Result cache close error", "error", err)
			}
		}
		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("Inkwell listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
