// Package cache implements the short-term response cache: user-scoped
// lookups keyed by a stable hash of the normalized query, TTL expiry,
// epoch-tagged entries with read-time tombstones, and best-effort semantics
// throughout. A cache failure is never a request failure.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/recalld/recalld/pkg/kvstore"
)

const (
	// keyPrefix shapes every response cache key:
	// cache:{userId}:{sha256(normalizedQuery)}.
	keyPrefix = "cache:"

	// promptFingerprintKey persists the last observed system prompt hash
	// outside the cache prefix so invalidation sweeps cannot erase it.
	promptFingerprintKey = "system:prompt_hash"
)

// ErrRejectedPayload is returned by Set when the value looks like
// structured data.
var ErrRejectedPayload = errors.New("cache: structured payload rejected")

// Entry is the stored representation of one cached response.
type Entry struct {
	Value      string `json:"value"`
	CachedAt   int64  `json:"cached_at"`
	TTLSeconds int    `json:"ttl_seconds"`
	Version    string `json:"version"`
	PromptHash string `json:"prompt_hash"`
}

// Stats holds cache counters. Counters are updated atomically; reads are
// point-in-time and never block writers.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Rejections    int64   `json:"rejections"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
}

// recorder is the optional metrics hook implemented by the metrics manager.
type recorder interface {
	RecordCacheOp(op, result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheOp(op, result string) {}

type cacheLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// ResponseCache maps (user, normalized query) to a previously generated
// response. All operations are best-effort: backend failures degrade to a
// miss or a dropped write, never an error surfaced to the conversation.
type ResponseCache struct {
	kv         kvstore.Store
	epoch      *Epoch
	defaultTTL time.Duration
	logger     cacheLogger
	metrics    recorder

	hits          atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	rejections    atomic.Int64
	invalidations atomic.Int64
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithMetrics attaches a metrics recorder.
func WithMetrics(r recorder) Option {
	return func(c *ResponseCache) {
		if r != nil {
			c.metrics = r
		}
	}
}

// New creates a ResponseCache over the given key-value store.
func New(kv kvstore.Store, epoch *Epoch, defaultTTL time.Duration, log cacheLogger, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		kv:         kv,
		epoch:      epoch,
		defaultTTL: defaultTTL,
		logger:     log,
		metrics:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RestoreFingerprint loads the persisted prompt fingerprint into the epoch.
// Called once at startup so a restart with an unchanged prompt does not wipe
// the cache.
func (c *ResponseCache) RestoreFingerprint(ctx context.Context) {
	hash, found, err := c.kv.Get(ctx, promptFingerprintKey)
	if err != nil {
		c.logger.Warn("failed to restore prompt fingerprint", "error", err)
		return
	}
	if found {
		c.epoch.SetPromptHash(hash)
	}
}

// Key builds the stable cache key for a user/query pair.
func Key(userID, query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return keyPrefix + userID + ":" + hex.EncodeToString(sum[:])
}

// NormalizeQuery lowercases and collapses whitespace so trivially different
// phrasings share a key.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// UserPrefix returns the key prefix covering one user's entries.
func UserPrefix(userID string) string {
	return keyPrefix + userID + ":"
}

// Get looks up a cached response. found=false covers absence, TTL expiry,
// epoch mismatch and backend failure alike; ok=false flags the backend
// failure case for callers that want to log it.
func (c *ResponseCache) Get(ctx context.Context, userID, query string) (value string, found bool, ok bool) {
	raw, exists, err := c.kv.Get(ctx, Key(userID, query))
	if err != nil {
		c.logger.Warn("cache get degraded to miss", "user_id", userID, "error", err)
		c.miss()
		return "", false, false
	}
	if !exists {
		c.miss()
		return "", false, true
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", "user_id", userID, "error", err)
		c.dropEntry(ctx, userID, query)
		c.miss()
		return "", false, true
	}

	snap := c.epoch.Snapshot()
	if entry.Version != snap.Version || entry.PromptHash != snap.PromptHash {
		// Read-time tombstone: the entry predates the current epoch.
		c.dropEntry(ctx, userID, query)
		c.miss()
		return "", false, true
	}

	if entry.TTLSeconds > 0 {
		expiry := time.Unix(entry.CachedAt, 0).Add(time.Duration(entry.TTLSeconds) * time.Second)
		if time.Now().After(expiry) {
			c.dropEntry(ctx, userID, query)
			c.miss()
			return "", false, true
		}
	}

	c.hits.Add(1)
	c.metrics.RecordCacheOp("get", "hit")
	return entry.Value, true, true
}

// Set caches a response. Structured-looking values are rejected, backend
// failures are swallowed. A zero ttl uses the configured default.
func (c *ResponseCache) Set(ctx context.Context, userID, query, value string, ttl time.Duration) error {
	if ClassifyPayloadShape(value) == ShapeStructured {
		c.rejections.Add(1)
		c.metrics.RecordCacheOp("set", "rejected")
		c.logger.Warn("structured payload rejected by response cache", "user_id", userID)
		return ErrRejectedPayload
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	snap := c.epoch.Snapshot()
	entry := Entry{
		Value:      value,
		CachedAt:   time.Now().Unix(),
		TTLSeconds: int(ttl / time.Second),
		Version:    snap.Version,
		PromptHash: snap.PromptHash,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache set skipped: marshal failed", "user_id", userID, "error", err)
		return nil
	}

	if err := c.kv.Set(ctx, Key(userID, query), string(data), ttl); err != nil {
		c.logger.Warn("cache set skipped: backend error", "user_id", userID, "error", err)
		return nil
	}

	c.sets.Add(1)
	c.metrics.RecordCacheOp("set", "stored")
	return nil
}

// InvalidateUser removes every cached response for one user.
func (c *ResponseCache) InvalidateUser(ctx context.Context, userID string) (int, error) {
	n, err := c.kv.DeleteByPrefix(ctx, UserPrefix(userID))
	if err != nil {
		c.logger.Warn("user cache invalidation failed", "user_id", userID, "error", err)
		return n, err
	}
	c.invalidations.Add(int64(n))
	c.metrics.RecordCacheOp("invalidate_user", "ok")
	return n, nil
}

// InvalidateAll removes every cached response for every user.
func (c *ResponseCache) InvalidateAll(ctx context.Context) (int, error) {
	n, err := c.kv.DeleteByPrefix(ctx, keyPrefix)
	if err != nil {
		c.logger.Warn("cache invalidation failed", "error", err)
		return n, err
	}
	c.invalidations.Add(int64(n))
	c.metrics.RecordCacheOp("invalidate_all", "ok")
	return n, nil
}

// OnSystemPromptChanged compares the prompt fingerprint against the stored
// one and, when it differs, invalidates the response cache (history and
// semantic memory are untouched) and persists the new fingerprint. Calling
// it twice with the same prompt is a no-op.
func (c *ResponseCache) OnSystemPromptChanged(ctx context.Context, prompt string) (invalidated bool) {
	hash := FingerprintPrompt(prompt)
	if !c.epoch.SetPromptHash(hash) {
		return false
	}

	if _, err := c.InvalidateAll(ctx); err != nil {
		// Entries are still dead: they carry the old fingerprint and
		// tombstone on read.
		c.logger.Warn("prompt-change sweep failed; relying on read-time tombstones", "error", err)
	}
	if err := c.kv.Set(ctx, promptFingerprintKey, hash, 0); err != nil {
		c.logger.Warn("failed to persist prompt fingerprint", "error", err)
	}

	c.logger.Debug("system prompt changed, response cache invalidated", "hash", hash[:12])
	return true
}

// Stats returns a point-in-time view of the counters.
func (c *ResponseCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Hits:          hits,
		Misses:        misses,
		Sets:          c.sets.Load(),
		Rejections:    c.rejections.Load(),
		Invalidations: c.invalidations.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (c *ResponseCache) miss() {
	c.misses.Add(1)
	c.metrics.RecordCacheOp("get", "miss")
}

// dropEntry deletes a dead entry best-effort.
func (c *ResponseCache) dropEntry(ctx context.Context, userID, query string) {
	if err := c.kv.Delete(ctx, Key(userID, query)); err != nil {
		c.logger.Debug("failed to drop dead cache entry", "user_id", userID, "error", err)
	}
}
