package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
)

const webScraperName = "web_scraper"

// WebScraper fetches a page through a Firecrawl-compatible scrape API
// and returns it as markdown.
type WebScraper struct {
	apiURL string
	apiKey string
	client *http.Client
	cache  *ResultCache
}

func NewWebScraper(apiURL, apiKey string, client *http.Client, cache *ResultCache) *WebScraper {
	return &WebScraper{apiURL: apiURL, apiKey: apiKey, client: client, cache: cache}
}

func (t *WebScraper) Definition() mcp.Tool {
	return mcp.NewTool(webScraperName,
		mcp.WithDescription("Fetch a web page and return its main content as markdown, with the page title, description and language."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the page to read."),
		),
	)
}

func (t *WebScraper) Execute(ctx context.Context, call Call) (Output, error) {
	target, err := parseHTTPURL(call.String("url"))
	if err != nil {
		return Output{}, err
	}
	if out, ok := t.cache.Get(webScraperName, target); ok {
		return out, nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"url":             target,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("failed to scrape %s: %w", target, err)
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp.Body)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read scrape response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Output{}, fmt.Errorf("scrape API returned status %d: %s", resp.StatusCode, clip(string(respBody), 300))
	}

	var scraped struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    struct {
			Markdown string `json:"markdown"`
			Metadata struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				Language    string `json:"language"`
				SourceURL   string `json:"sourceURL"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &scraped); err != nil {
		return Output{}, fmt.Errorf("invalid scrape API response: %w", err)
	}
	if !scraped.Success {
		msg := scraped.Error
		if msg == "" {
			msg = "unknown error"
		}
		return Output{}, fmt.Errorf("scrape of %s failed: %s", target, msg)
	}

	meta := scraped.Data.Metadata
	var sb strings.Builder
	title := meta.Title
	if title == "" {
		title = target
	}
	sb.WriteString("# " + title + "\n")
	if meta.Description != "" {
		sb.WriteString("> " + meta.Description + "\n")
	}
	if meta.Language != "" {
		sb.WriteString("Language: " + meta.Language + "\n")
	}
	sb.WriteString("Source: " + target + "\n\n")
	sb.WriteString(strings.TrimSpace(scraped.Data.Markdown))

	out := Output{
		Text:    sb.String(),
		Sources: []models.Source{{Title: meta.Title, URL: target, Snippet: clip(meta.Description, 200)}},
	}
	t.cache.Put(webScraperName, target, out)
	return out, nil
}

func parseHTTPURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidArguments, raw)
	}
	return u.String(), nil
}
