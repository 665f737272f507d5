package tools

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ahmetk3436/inkwell/internal/models"
)

func newTestCache(t *testing.T, ttl time.Duration) *ResultCache {
	t.Helper()
	c, err := OpenResultCache(filepath.Join(t.TempDir(), "cache", "tools.db"), ttl)
	if err != nil {
		t.Fatalf("OpenResultCache failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	c := newTestCache(t, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("web_scraper", "https://example.com", Output{
		Text:    "page",
		Sources: []models.Source{{Title: "Example", URL: "https://example.com"}},
	})

	out, ok := c.Get("web_scraper", "https://example.com")
	if !ok || out.Text != "page" || len(out.Sources) != 1 {
		t.Fatalf("expected cached page, got %+v ok=%v", out, ok)
	}
	if _, ok := c.Get("pdf_scraper", "https://example.com"); ok {
		t.Fatal("entries must be keyed by tool")
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get("web_scraper", "https://example.com"); ok {
		t.Fatal("expired entry should miss")
	}
}

func TestCachePrune(t *testing.T) {
	c := newTestCache(t, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("web_scraper", "https://old.example", Output{Text: "old"})
	now = now.Add(45 * time.Minute)
	c.Put("web_scraper", "https://new.example", Output{Text: "new"})
	now = now.Add(30 * time.Minute)

	n, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", n)
	}
	if _, ok := c.Get("web_scraper", "https://new.example"); !ok {
		t.Fatal("fresh entry was pruned")
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *ResultCache
	c.Put("web_scraper", "https://example.com", Output{Text: "x"})
	if _, ok := c.Get("web_scraper", "https://example.com"); ok {
		t.Fatal("nil cache should never hit")
	}
}

func TestCacheStartStop(t *testing.T) {
	c := newTestCache(t, time.Hour)
	c.Start(5 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop()
}
