package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/telemetry"
)

// TablePrefix namespaces every memoized dataset table.
const TablePrefix = "table:"

// Memo is a read-through cache of JSON-encoded values over any domain.Cache.
// Entries are dropped by Invalidate when the underlying artifacts change.
type Memo struct {
	cache  domain.Cache
	prefix string
	ttl    time.Duration
}

// NewMemo returns a memo storing keys under prefix with the given TTL.
func NewMemo(c domain.Cache, prefix string, ttl time.Duration) *Memo {
	return &Memo{cache: c, prefix: prefix, ttl: ttl}
}

// Load fills dst from the cache, or calls load, stores its result and decodes
// it into dst. Cache errors degrade to a direct load.
func (m *Memo) Load(ctx context.Context, key string, dst any, load func(ctx context.Context) (any, error)) error {
	full := m.prefix + key

	data, err := m.cache.Get(ctx, full)
	if err != nil {
		telemetry.CacheRequests.WithLabelValues("error").Inc()
		slog.Warn("cache get failed", "key", full, "error", err)
	} else if data != nil {
		if err := json.Unmarshal(data, dst); err == nil {
			telemetry.CacheRequests.WithLabelValues("hit").Inc()
			return nil
		}
		slog.Warn("dropping undecodable cache entry", "key", full)
		_ = m.cache.Delete(ctx, full)
	}
	telemetry.CacheRequests.WithLabelValues("miss").Inc()

	val, err := load(ctx)
	if err != nil {
		return err
	}

	data, err = json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encode %s: %w", full, err)
	}
	if err := m.cache.Set(ctx, full, data, m.ttl); err != nil {
		slog.Warn("cache set failed", "key", full, "error", err)
	}
	return json.Unmarshal(data, dst)
}

// Invalidate drops every memoized entry.
func (m *Memo) Invalidate(ctx context.Context) error {
	return m.cache.DeletePrefix(ctx, m.prefix)
}
