// ABOUTME: Keeps the conversation picker list in sync during session changes
// ABOUTME: Merges pinned and regular lists with a single not-yet-named placeholder

package catalog

import (
	"log/slog"
	"sync"
)

// DefaultPlaceholderName is shown for a conversation the server has not
// named yet.
const DefaultPlaceholderName = "New chat"

// Item is one entry of the conversation picker.
// An empty ID marks the placeholder for a conversation that has not been
// created server-side yet; its CreatedAt is zero.
type Item struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Inputs       map[string]any `json:"inputs"`
	Introduction string         `json:"introduction"`
	CreatedAt    int64          `json:"created_at"`
}

// Catalog merges the pinned list, the regular list, and an optional pending
// placeholder into the conversation list the UI renders. Order is preserved
// as delivered; entries are only ever prepended or replaced in place.
type Catalog struct {
	mu              sync.Mutex
	pinned          []Item
	regular         []Item
	showPlaceholder bool
	placeholderName string
	logger          *slog.Logger
}

// New creates an empty catalog. An empty placeholderName falls back to
// DefaultPlaceholderName; pass nil logger for the default.
func New(placeholderName string, logger *slog.Logger) *Catalog {
	if placeholderName == "" {
		placeholderName = DefaultPlaceholderName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		placeholderName: placeholderName,
		logger:          logger.With("component", "catalog"),
	}
}

// SetPinned replaces the pinned list.
func (c *Catalog) SetPinned(items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = append([]Item(nil), items...)
}

// SetRegular replaces the regular (unpinned) list.
func (c *Catalog) SetRegular(items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regular = append([]Item(nil), items...)
}

// ShowPlaceholder toggles the "new chat" placeholder at the front of the
// list. At most one placeholder ever exists.
func (c *Catalog) ShowPlaceholder(show bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showPlaceholder = show
}

// List returns the merged conversation list: the regular list with the
// placeholder unshifted to the front when requested. The placeholder is not
// added again if a pending entry is already at the front.
func (c *Catalog) List() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := append([]Item(nil), c.regular...)
	if c.showPlaceholder && (len(out) == 0 || out[0].ID != "") {
		out = append([]Item{{
			ID:     "",
			Name:   c.placeholderName,
			Inputs: map[string]any{},
		}}, out...)
	}
	return out
}

// Pinned returns the pinned list.
func (c *Catalog) Pinned() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.pinned...)
}

// ReconcileNamed applies a server-confirmed conversation (generated id and
// name). An existing entry with the same id is replaced in place; otherwise
// the entry is unshifted to the front. The list is never re-sorted.
func (c *Catalog) ReconcileNamed(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.regular {
		if c.regular[i].ID == item.ID {
			c.regular[i] = item
			return
		}
	}
	c.regular = append([]Item{item}, c.regular...)
	c.logger.Debug("conversation named", "conversation_id", item.ID, "name", item.Name)
}

// Find looks up a conversation by id in the merged list, falling back to the
// pinned list.
func (c *Catalog) Find(id string) (Item, bool) {
	for _, item := range c.List() {
		if item.ID == id {
			return item, true
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.pinned {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}
