package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebScraperFormatsPage(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer key, got %q", r.Header.Get("Authorization"))
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://example.com/post" || body["onlyMainContent"] != true {
			t.Errorf("unexpected request body %v", body)
		}
		w.Write([]byte(`{"success":true,"data":{"markdown":"Hello **world**","metadata":{"title":"A Post","description":"About things","language":"en"}}}`))
	}))
	defer srv.Close()

	scraper := NewWebScraper(srv.URL, "key", srv.Client(), newTestCache(t, time.Hour))
	call := Call{Args: map[string]any{"url": "https://example.com/post"}}

	out, err := scraper.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	for _, want := range []string{"# A Post", "> About things", "Language: en", "Hello **world**"} {
		if !strings.Contains(out.Text, want) {
			t.Fatalf("output missing %q:\n%s", want, out.Text)
		}
	}
	if len(out.Sources) != 1 || out.Sources[0].URL != "https://example.com/post" {
		t.Fatalf("unexpected sources %+v", out.Sources)
	}

	if _, err := scraper.Execute(context.Background(), call); err != nil {
		t.Fatalf("cached Execute failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected second call to hit the cache, upstream saw %d requests", hits)
	}
}

func TestWebScraperRejectsNonHTTPURL(t *testing.T) {
	scraper := NewWebScraper("http://unused", "", http.DefaultClient, nil)
	for _, raw := range []string{"file:///etc/passwd", "example.com", "ftp://host/x"} {
		if _, err := scraper.Execute(context.Background(), Call{Args: map[string]any{"url": raw}}); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestWebScraperUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	scraper := NewWebScraper(srv.URL, "", srv.Client(), nil)
	_, err := scraper.Execute(context.Background(), Call{Args: map[string]any{"url": "https://example.com"}})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestPDFScraperJoinsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string            `json:"model"`
			Document map[string]string `json:"document"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "ocr-test" || body.Document["type"] != "document_url" || body.Document["document_url"] != "https://example.com/doc.pdf" {
			t.Errorf("unexpected request %+v", body)
		}
		w.Write([]byte(`{"pages":[{"index":0,"markdown":"Page one"},{"index":1,"markdown":"Page two"}]}`))
	}))
	defer srv.Close()

	scraper := NewPDFScraper(srv.URL, "key", "ocr-test", srv.Client(), nil)
	out, err := scraper.Execute(context.Background(), Call{Args: map[string]any{"url": "https://example.com/doc.pdf"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Text != "Page one\n\nPage two" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if len(out.Sources) != 1 || out.Sources[0].Title != "doc.pdf" {
		t.Fatalf("unexpected sources %+v", out.Sources)
	}
}

func TestWebSearchFallsBackToSerper(t *testing.T) {
	tavily := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tavily.Close()
	serper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "serper-key" {
			t.Errorf("missing serper key")
		}
		w.Write([]byte(`{"organic":[{"title":"Go","link":"https://go.dev","snippet":"The Go language"}]}`))
	}))
	defer serper.Close()

	search := NewWebSearch("tavily-key", "serper-key", http.DefaultClient)
	search.tavilyURL = tavily.URL
	search.serperURL = serper.URL

	out, err := search.Execute(context.Background(), Call{Args: map[string]any{"query": "golang"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(out.Sources) != 1 || out.Sources[0].URL != "https://go.dev" {
		t.Fatalf("unexpected sources %+v", out.Sources)
	}
	if !strings.Contains(out.Text, "1. **Go**") {
		t.Fatalf("unexpected text %q", out.Text)
	}
}

func TestWebSearchWithoutKeys(t *testing.T) {
	search := NewWebSearch("", "", http.DefaultClient)
	if search.Enabled() {
		t.Fatal("search without keys should be disabled")
	}
	if _, err := search.Execute(context.Background(), Call{Args: map[string]any{"query": "x"}}); err == nil {
		t.Fatal("expected an error without any backend")
	}
}
