// Package history keeps a read-only copy of the service's analysis history.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/csheth/nexus/internal/remote"
)

// Entry is one row of the service's history.
type Entry struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Date     string `json:"date"`
	Summary  string `json:"summary"`
}

// Sender is the transport the cache reads through.
type Sender interface {
	Send(ctx context.Context, endpoint remote.Endpoint, method string, payload remote.Payload) (remote.Outcome, error)
}

// ErrStale is wrapped by a RefreshError when a newer refresh was issued
// before this one completed.
var ErrStale = errors.New("history: superseded by a newer refresh")

// RefreshError is a soft failure: the cached entries were left untouched.
type RefreshError struct {
	Status int
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("history refresh failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("history refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Cache holds the most recently fetched history. Nothing is fetched until
// Refresh is called.
type Cache struct {
	sender Sender
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	entries   []Entry
	loaded    bool
	refreshed time.Time
	issued    uint64
	applied   uint64
}

// NewCache returns an empty cache. A nil logger means slog.Default().
func NewCache(sender Sender, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{sender: sender, logger: logger, now: time.Now}
}

// Refresh fetches the full history and replaces the cached entries. When
// refreshes overlap, the last one issued wins: an older response arriving
// after a newer one was applied is discarded with ErrStale.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	outcome, err := c.sender.Send(ctx, remote.EndpointHistory, http.MethodGet, nil)
	if err != nil {
		return c.soft(seq, &RefreshError{Err: err})
	}
	if !outcome.OK {
		return c.soft(seq, &RefreshError{Status: outcome.Status, Err: fmt.Errorf("unexpected status %s", http.StatusText(outcome.Status))})
	}
	entries, err := decode(outcome.Body)
	if err != nil {
		return c.soft(seq, &RefreshError{Status: outcome.Status, Err: err})
	}

	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		c.logger.Debug("discarding stale history response", "seq", seq)
		return &RefreshError{Status: outcome.Status, Err: ErrStale}
	}
	c.applied = seq
	c.entries = entries
	c.loaded = true
	c.refreshed = c.now()
	c.mu.Unlock()

	c.logger.Info("history refreshed", "entries", len(entries), "seq", seq)
	return nil
}

// ClearAll deletes the service's history and then refreshes. A failed delete
// leaves the cache untouched. When the delete succeeds but the follow-up
// refresh does not, the returned error is a *RefreshError. A follow-up
// refresh overtaken by a newer one counts as success.
func (c *Cache) ClearAll(ctx context.Context) error {
	outcome, err := c.sender.Send(ctx, remote.EndpointHistory, http.MethodDelete, nil)
	if err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	if !outcome.OK {
		return fmt.Errorf("history: clear: service returned %d %s", outcome.Status, http.StatusText(outcome.Status))
	}
	c.logger.Info("history cleared on the service")
	if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrStale) {
		return fmt.Errorf("history: cleared, but reload failed: %w", err)
	}
	return nil
}

// Entries returns a copy of the cached entries, newest first as served.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Loaded reports whether any refresh has succeeded.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// LastRefreshed returns when entries were last replaced.
func (c *Cache) LastRefreshed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshed
}

func (c *Cache) soft(seq uint64, err *RefreshError) error {
	c.logger.Warn("history refresh failed", "seq", seq, "status", err.Status, "error", err.Err)
	return err
}

func decode(body []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if entries == nil {
		return nil, errors.New("decode history: body is not a list")
	}
	seen := make(map[int]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("decode history: duplicate id %d", entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}
	return entries, nil
}
