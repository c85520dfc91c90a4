// ABOUTME: Resolves and persists the active conversation id per (application, user) pair
// ABOUTME: Query-parameter overrides win over the persisted map; empty string means no conversation yet

package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// storageKey is the fixed key the identity map lives under in the KV store.
const storageKey = "conversation_id_info"

// DefaultUserKey is the sentinel used when no user id is known.
const DefaultUserKey = "DEFAULT"

// KV is the durable key-value storage the mapper persists to.
// Writes are last-writer-wins; concurrent writers for the same key may race
// and the engine accepts that.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Mapper owns the persisted applicationID -> userID -> conversationID map.
type Mapper struct {
	kv     KV
	logger *slog.Logger
}

// NewMapper creates a mapper backed by the given KV store. Pass nil logger
// for the default.
func NewMapper(kv KV, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		kv:     kv,
		logger: logger.With("component", "identity"),
	}
}

// Resolve returns the conversation id for (appID, userID).
// Precedence: explicit id from the owning page's query parameters, then the
// persisted map entry, then empty string meaning "no conversation yet".
func (m *Mapper) Resolve(ctx context.Context, appID, userID, fromQuery string) (string, error) {
	if fromQuery != "" {
		return fromQuery, nil
	}
	info, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	return info[appID][userKey(userID)], nil
}

// Persist overwrites the map entry for (appID, userID), preserving every
// other application's and user's entries.
func (m *Mapper) Persist(ctx context.Context, appID, userID, conversationID string) error {
	if appID == "" {
		return fmt.Errorf("app id is required")
	}
	info, err := m.load(ctx)
	if err != nil {
		return err
	}
	if info[appID] == nil {
		info[appID] = make(map[string]string)
	}
	info[appID][userKey(userID)] = conversationID

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding identity map: %w", err)
	}
	if err := m.kv.Set(ctx, storageKey, string(data)); err != nil {
		return fmt.Errorf("persisting identity map: %w", err)
	}
	m.logger.Debug("conversation id persisted",
		"app_id", appID,
		"user_key", userKey(userID),
		"conversation_id", conversationID)
	return nil
}

// load reads and normalizes the persisted map. Legacy data may hold a bare
// conversation id string where the per-user map should be; those entries are
// replaced with an empty map rather than crashing or clobbering other apps.
func (m *Mapper) load(ctx context.Context) (map[string]map[string]string, error) {
	raw, ok, err := m.kv.Get(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("loading identity map: %w", err)
	}
	info := make(map[string]map[string]string)
	if !ok || raw == "" {
		return info, nil
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &outer); err != nil {
		m.logger.Warn("identity map is malformed, starting fresh", "error", err)
		return info, nil
	}
	for appID, entry := range outer {
		var users map[string]string
		if err := json.Unmarshal(entry, &users); err != nil {
			m.logger.Warn("identity entry is not a user map, dropping", "app_id", appID)
			users = make(map[string]string)
		}
		info[appID] = users
	}
	return info, nil
}

func userKey(userID string) string {
	if userID == "" {
		return DefaultUserKey
	}
	return userID
}
