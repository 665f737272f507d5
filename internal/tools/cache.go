package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ahmetk3436/inkwell/internal/models"
	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("tool_results")

// ResultCache keeps fetched documents on disk so repeated scrapes of the
// same URL skip the upstream API until the entry expires.
type ResultCache struct {
	db   *bolt.DB
	ttl  time.Duration
	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

type cacheEntry struct {
	Text     string          `json:"text"`
	Sources  []models.Source `json:"sources,omitempty"`
	StoredAt time.Time       `json:"stored_at"`
}

func OpenResultCache(path string, ttl time.Duration) (*ResultCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open result cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init result cache: %w", err)
	}
	return &ResultCache{db: db, ttl: ttl, now: time.Now}, nil
}

func cacheKey(tool, url string) []byte {
	return []byte(tool + "\x00" + url)
}

// Get returns a cached output for tool and url if one exists and is fresh.
// A nil cache never hits.
func (c *ResultCache) Get(tool, url string) (Output, bool) {
	if c == nil {
		return Output{}, false
	}
	var entry cacheEntry
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cacheBucket).Get(cacheKey(tool, url))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return nil
		}
		found = c.now().Sub(entry.StoredAt) < c.ttl
		return nil
	})
	if !found {
		return Output{}, false
	}
	return Output{Text: entry.Text, Sources: entry.Sources}, true
}

func (c *ResultCache) Put(tool, url string, out Output) {
	if c == nil {
		return
	}
	b, err := json.Marshal(cacheEntry{Text: out.Text, Sources: out.Sources, StoredAt: c.now()})
	if err != nil {
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put(cacheKey(tool, url), b)
	}); err != nil {
		slog.Warn("Failed to write tool result cache", "tool", tool, "error", err)
	}
}

// Prune deletes expired entries and returns how many were removed.
func (c *ResultCache) Prune() (int, error) {
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry cacheEntry
			if json.Unmarshal(v, &entry) != nil || c.now().Sub(entry.StoredAt) >= c.ttl {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

// Start runs Prune every interval until Stop is called.
func (c *ResultCache) Start(interval time.Duration) {
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(interval)
	slog.Info("Result cache pruner started", "interval", interval.String())
}

func (c *ResultCache) loop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := c.Prune()
			if err != nil {
				slog.Error("Result cache prune failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Result cache pruned", "removed", n)
			}
		case <-c.stop:
			return
		}
	}
}

func (c *ResultCache) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop = nil
	slog.Info("Result cache pruner stopped")
}

func (c *ResultCache) Close() error {
	c.Stop()
	return c.db.Close()
}
