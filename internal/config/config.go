package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port string

	// Database
	DBDriver   string // postgres or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	// Auth
	JWTSecret string

	// Model provider (OpenAI-compatible chat completions)
	OpenAIAPIKey string
	OpenAIAPIURL string
	DefaultModel string

	// Tools
	ScraperAPIURL   string
	ScraperAPIKey   string
	OCRAPIURL       string
	OCRAPIKey       string
	OCRModel        string
	TavilyAPIKey    string
	SerperAPIKey    string
	ToolTimeout     time.Duration
	MaxToolRounds   int
	ScrapeCachePath string
	ScrapeCacheTTL  time.Duration

	// Chat
	ChatRateLimit int // requests per minute per user, 0 disables

	// MCP server
	MCPUserEmail string
}

func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8098"),
		DBDriver:        getEnv("DB_DRIVER", "postgres"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", ""),
		DBName:          getEnv("DB_NAME", "inkwell_db"),
		DBSSLMode:       getEnv("DB_SSLMODE", "disable"),
		SQLitePath:      getEnv("SQLITE_PATH", "inkwell.db"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIAPIURL:    getEnv("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		ScraperAPIURL:   getEnv("SCRAPER_API_URL", "https://api.firecrawl.dev/v1/scrape"),
		ScraperAPIKey:   getEnv("SCRAPER_API_KEY", ""),
		OCRAPIURL:       getEnv("OCR_API_URL", "https://api.mistral.ai/v1/ocr"),
		OCRAPIKey:       getEnv("OCR_API_KEY", ""),
		OCRModel:        getEnv("OCR_MODEL", "mistral-ocr-latest"),
		TavilyAPIKey:    getEnv("TAVILY_API_KEY", ""),
		SerperAPIKey:    getEnv("SERPER_API_KEY", ""),
		ToolTimeout:     getEnvDuration("TOOL_TIMEOUT", 30*time.Second),
		MaxToolRounds:   getEnvInt("MAX_TOOL_ROUNDS", 6),
		ScrapeCachePath: getEnv("SCRAPE_CACHE_PATH", ""),
		ScrapeCacheTTL:  getEnvDuration("SCRAPE_CACHE_TTL", 6*time.Hour),
		ChatRateLimit:   getEnvInt("CHAT_RATE_LIMIT", 30),
		MCPUserEmail:    getEnv("MCP_USER_EMAIL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
