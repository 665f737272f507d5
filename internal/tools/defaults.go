package tools

import (
	"log/slog"
	"net/http"

	"github.com/ahmetk3436/inkwell/internal/config"
	"github.com/ahmetk3436/inkwell/internal/services"
)

// NewDefaultRegistry wires the built-in tools. Tools backed by an
// external API that has no key configured are left out. cache may be nil.
func NewDefaultRegistry(cfg *config.Config, notes *services.NoteService, tasks *services.TaskService, cache *ResultCache) *Registry {
	client := &http.Client{Timeout: cfg.ToolTimeout}

	r := NewRegistry(cfg.ToolTimeout,
		NewWebScraper(cfg.ScraperAPIURL, cfg.ScraperAPIKey, client, cache),
		NewSearchNotes(notes),
		NewGetNote(notes),
		NewSearchTasks(tasks),
	)
	if cfg.OCRAPIKey != "" {
		r.Register(NewPDFScraper(cfg.OCRAPIURL, cfg.OCRAPIKey, cfg.OCRModel, client, cache))
	}
	if search := NewWebSearch(cfg.TavilyAPIKey, cfg.SerperAPIKey, client); search.Enabled() {
		r.Register(search)
	}

	slog.Info("Tool registry ready", "tools", r.Names())
	return r
}
