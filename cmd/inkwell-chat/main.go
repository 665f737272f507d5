package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ahmetk3436/inkwell/internal/chat"
	"github.com/ahmetk3436/inkwell/internal/client"
	tea "github.com/charmbracelet/bubbletea"
)

type appConfig struct {
	serverURL      string
	email          string
	password       string
	mode           string
	model          string
	conversationID string
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseFlags() appConfig {
	var cfg appConfig
	flag.StringVar(&cfg.serverURL, "url", envOr("INKWELL_URL", "http://localhost:8098"), "Inkwell server URL")
	flag.StringVar(&cfg.email, "email", envOr("INKWELL_EMAIL", ""), "Account email")
	flag.StringVar(&cfg.password, "password", envOr("INKWELL_PASSWORD", ""), "Account password")
	flag.StringVar(&cfg.mode, "mode", envOr("INKWELL_MODE", string(chat.ModeAgent)), "Chat mode (ask|agent)")
	flag.StringVar(&cfg.model, "model", envOr("INKWELL_MODEL", ""), "Model id, empty for the server default")
	flag.StringVar(&cfg.conversationID, "conversation", "", "Continue an existing conversation")
	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()
	mode := chat.Mode(cfg.mode)
	if !mode.Valid() {
		fmt.Fprintf(os.Stderr, "unknown mode %q (want ask or agent)\n", cfg.mode)
		os.Exit(2)
	}
	if cfg.email == "" || cfg.password == "" {
		fmt.Fprintln(os.Stderr, "email and password are required (-email/-password or INKWELL_EMAIL/INKWELL_PASSWORD)")
		os.Exit(2)
	}

	api := client.New(cfg.serverURL, &http.Client{})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := api.Login(ctx, cfg.email, cfg.password)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(api, mode, cfg.model, cfg.conversationID), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "inkwell-chat: %v\n", err)
		os.Exit(1)
	}
}
