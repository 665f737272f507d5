package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	searchWebName    = "search_web"
	defaultTavilyURL = "https://api.tavily.com/search"
	defaultSerperURL = "https://google.serper.dev/search"
)

var errNoSearchBackend = errors.New("web search is not configured")

// WebSearch queries Tavily and falls back to Serper when Tavily is not
// configured, fails, or returns nothing.
type WebSearch struct {
	tavilyKey string
	serperKey string
	tavilyURL string
	serperURL string
	client    *http.Client
}

func NewWebSearch(tavilyKey, serperKey string, client *http.Client) *WebSearch {
	return &WebSearch{
		tavilyKey: tavilyKey,
		serperKey: serperKey,
		tavilyURL: defaultTavilyURL,
		serperURL: defaultSerperURL,
		client:    client,
	}
}

// Enabled reports whether at least one backend has a key.
func (t *WebSearch) Enabled() bool {
	return t.tavilyKey != "" || t.serperKey != ""
}

func (t *WebSearch) Definition() mcp.Tool {
	return mcp.NewTool(searchWebName,
		mcp.WithDescription("Search the web and return the top results with title, URL and a short snippet. Use web_scraper afterwards to read a result in full."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query."),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results, 1 to 10. Defaults to 5."),
		),
	)
}

func (t *WebSearch) Execute(ctx context.Context, call Call) (Output, error) {
	query := strings.TrimSpace(call.String("query"))
	limit := call.Int("max_results", 5)
	if limit <= 0 || limit > 10 {
		limit = 5
	}

	results, err := t.search(ctx, query, limit)
	if err != nil {
		return Output{}, err
	}
	if len(results) == 0 {
		return Output{Text: "No results found."}, nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s**\n   URL: %s\n   %s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return Output{Text: strings.TrimSpace(sb.String()), Sources: results}, nil
}

func (t *WebSearch) search(ctx context.Context, query string, limit int) ([]models.Source, error) {
	if !t.Enabled() {
		return nil, errNoSearchBackend
	}

	var lastErr error
	if t.tavilyKey != "" {
		results, err := t.searchTavily(ctx, query, limit)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("Tavily search failed, trying Serper", "error", err)
		lastErr = err
	}
	if t.serperKey != "" {
		results, err := t.searchSerper(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("web search failed: %w", lastErr)
}

func (t *WebSearch) searchTavily(ctx context.Context, query string, limit int) ([]models.Source, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"api_key":             t.tavilyKey,
		"query":               query,
		"max_results":         limit,
		"search_depth":        "basic",
		"include_answer":      false,
		"include_raw_content": false,
	})

	var resp struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := t.post(ctx, t.tavilyURL, body, nil, &resp); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	results := make([]models.Source, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, models.Source{Title: r.Title, URL: r.URL, Snippet: clipSnippet(r.Content)})
	}
	return results, nil
}

func (t *WebSearch) searchSerper(ctx context.Context, query string, limit int) ([]models.Source, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"q":   query,
		"num": limit,
	})

	var resp struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := t.post(ctx, t.serperURL, body, map[string]string{"X-API-KEY": t.serperKey}, &resp); err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}

	results := make([]models.Source, 0, len(resp.Organic))
	for i, r := range resp.Organic {
		if i >= limit {
			break
		}
		results = append(results, models.Source{Title: r.Title, URL: r.Link, Snippet: clipSnippet(r.Snippet)})
	}
	return results, nil
}

func (t *WebSearch) post(ctx context.Context, url string, body []byte, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	respBody, err := readBody(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

func clipSnippet(s string) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	if len(s) <= 300 {
		return s
	}
	cut := 300
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
