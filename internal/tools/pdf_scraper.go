package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
)

const pdfScraperName = "pdf_scraper"

// PDFScraper runs a remote PDF through a Mistral-compatible OCR API and
// returns the pages as markdown.
type PDFScraper struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
	cache  *ResultCache
}

func NewPDFScraper(apiURL, apiKey, model string, client *http.Client, cache *ResultCache) *PDFScraper {
	return &PDFScraper{apiURL: apiURL, apiKey: apiKey, model: model, client: client, cache: cache}
}

func (t *PDFScraper) Definition() mcp.Tool {
	return mcp.NewTool(pdfScraperName,
		mcp.WithDescription("Extract the text of a PDF document at a public URL using OCR. Returns markdown, one section per page."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the PDF document."),
		),
	)
}

func (t *PDFScraper) Execute(ctx context.Context, call Call) (Output, error) {
	target, err := parseHTTPURL(call.String("url"))
	if err != nil {
		return Output{}, err
	}
	if out, ok := t.cache.Get(pdfScraperName, target); ok {
		return out, nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"model": t.model,
		"document": map[string]string{
			"type":         "document_url",
			"document_url": target,
		},
		"include_image_base64": false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("failed to OCR %s: %w", target, err)
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp.Body)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read OCR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Output{}, fmt.Errorf("OCR API returned status %d: %s", resp.StatusCode, clip(string(respBody), 300))
	}

	var ocr struct {
		Pages []struct {
			Index    int    `json:"index"`
			Markdown string `json:"markdown"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(respBody, &ocr); err != nil {
		return Output{}, fmt.Errorf("invalid OCR API response: %w", err)
	}
	if len(ocr.Pages) == 0 {
		return Output{}, fmt.Errorf("OCR returned no pages for %s", target)
	}

	pages := make([]string, 0, len(ocr.Pages))
	for _, p := range ocr.Pages {
		pages = append(pages, strings.TrimSpace(p.Markdown))
	}

	out := Output{
		Text:    strings.Join(pages, "\n\n"),
		Sources: []models.Source{{Title: path.Base(target), URL: target}},
	}
	t.cache.Put(pdfScraperName, target, out)
	return out, nil
}
