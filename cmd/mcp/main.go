package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/ahmetk3436/inkwell/internal/config"
	"github.com/ahmetk3436/inkwell/internal/database"
	"github.com/ahmetk3436/inkwell/internal/mcpserver"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/ahmetk3436/inkwell/internal/tools"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	// stdout carries the MCP protocol, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if cfg.MCPUserEmail == "" {
		slog.Error("MCP_USER_EMAIL is required")
		os.Exit(1)
	}

	db, err := database.Open(cfg)
	if err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	teams := services.NewTeamService(db)
	users := services.NewUserService(db)
	notes := services.NewNoteService(db, teams)
	tasks := services.NewTaskService(db, teams)
	store := services.NewConversationStore(db, teams)

	user, err := users.GetByEmail(context.Background(), cfg.MCPUserEmail)
	if err != nil {
		slog.Error("MCP user not found", "email", cfg.MCPUserEmail, "error", err)
		os.Exit(1)
	}

	var cache *tools.ResultCache
	if cfg.ScrapeCachePath != "" {
		if cache, err = tools.OpenResultCache(cfg.ScrapeCachePath, cfg.ScrapeCacheTTL); err != nil {
			slog.Warn("Tool result cache unavailable", "error", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}
	registry := tools.NewDefaultRegistry(cfg, notes, tasks, cache)

	s := mcpserver.New(mcpserver.NewBridge(user, registry, store))
	slog.Info("Inkwell MCP server ready", "user", user.Email, "tools", len(registry.Names())+2)
	if err := server.ServeStdio(s); err != nil {
		slog.Error("MCP server stopped", "error", err)
		os.Exit(1)
	}
}
