// Package engine assembles the memory subsystem: response cache, bounded
// history, semantic memory with correction-aware ranking, the learning
// pipeline and the backend initializer, all behind one facade.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recalld/recalld/config"
	"github.com/recalld/recalld/pkg/bootstrap"
	"github.com/recalld/recalld/pkg/cache"
	"github.com/recalld/recalld/pkg/embedding"
	"github.com/recalld/recalld/pkg/history"
	"github.com/recalld/recalld/pkg/kvstore"
	"github.com/recalld/recalld/pkg/learning"
	"github.com/recalld/recalld/pkg/logger"
	"github.com/recalld/recalld/pkg/metrics"
	"github.com/recalld/recalld/pkg/ranker"
	"github.com/recalld/recalld/pkg/semantic"
	"github.com/recalld/recalld/pkg/vectorstore"
)

// ErrDegraded is returned by memory writes while the vector or embedding
// backend is down. Reads degrade to empty results instead of failing.
var ErrDegraded = errors.New("engine: semantic memory degraded")

// Engine is the memory subsystem facade.
type Engine struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Manager

	kv         kvstore.Store
	vectors    vectorstore.Store
	embedder   embedding.Provider
	cache      *cache.ResponseCache
	history    *history.Log
	memory     *semantic.Store
	ranker     *ranker.Ranker
	pipeline   *learning.Pipeline
	classifier *learning.Classifier
	init       *bootstrap.Initializer
}

// New wires an Engine from configuration. Backends are constructed but not
// probed; call Start before serving traffic.
func New(cfg *config.Config, log logger.Logger, mm *metrics.Manager) (*Engine, error) {
	kv, err := newKVStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	vectors, err := vectorstore.NewChromemStore(cfg.Vector.PersistPath)
	if err != nil {
		kv.Close()
		return nil, err
	}

	embedder := newEmbedder(cfg.Embedding, cfg.Vector.Dimension)

	epoch := cache.NewEpoch(cfg.Cache.Version)
	respCache := cache.New(kv, epoch, cfg.Cache.TTL, log, cache.WithMetrics(mm))
	hist := history.NewLog(kv, cfg.History.MaxTurns)
	memory := semantic.NewStore(vectors, embedder, kv, cfg.Memory.RelevanceFloor)
	classifier := learning.NewClassifier()

	e := &Engine{
		cfg:        cfg,
		log:        log,
		metrics:    mm,
		kv:         kv,
		vectors:    vectors,
		embedder:   embedder,
		cache:      respCache,
		history:    hist,
		memory:     memory,
		classifier: classifier,
		ranker: ranker.New(memory, ranker.Config{
			Floor:   cfg.Memory.RelevanceFloor,
			Damping: cfg.Memory.CorrectionDamping,
			Boost:   cfg.Memory.CanonicalBoost,
		}),
		pipeline: learning.NewPipeline(classifier, hist, memory, log, learning.WithMetrics(mm)),
		init: bootstrap.New(map[bootstrap.Backend]bootstrap.Pinger{
			bootstrap.BackendKeyValue:  kv,
			bootstrap.BackendVector:    vectors,
			bootstrap.BackendEmbedding: embedder,
		}, bootstrap.Config{
			Attempts:     cfg.Bootstrap.Attempts,
			BackoffBase:  cfg.Bootstrap.BackoffBase,
			ProbeTimeout: cfg.Bootstrap.ProbeTimeout,
		}, log, bootstrap.WithMetrics(mm)),
	}
	return e, nil
}

func newKVStore(cfg config.StorageConfig) (kvstore.Store, error) {
	switch cfg.Type {
	case "redis":
		return kvstore.NewRedisStore(kvstore.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), nil
	case "badger":
		return kvstore.NewBadgerStore(kvstore.BadgerConfig{
			Path:       cfg.Badger.Path,
			SyncWrites: cfg.Badger.SyncWrites,
		})
	case "memory":
		return kvstore.NewMemoryStore(time.Minute), nil
	default:
		return nil, fmt.Errorf("engine: unknown storage type %q", cfg.Type)
	}
}

func newEmbedder(cfg config.EmbeddingConfig, dimension int) embedding.Provider {
	if cfg.Provider == "remote" {
		return embedding.NewRemoteProvider(embedding.RemoteConfig{
			Endpoint:          cfg.Endpoint,
			Dimensions:        dimension,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}
	return embedding.NewLocalProvider(dimension)
}

// Start probes the backends and restores persisted cache state. A degraded
// subsystem starts fine; only a dead key-value tier fails startup.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.init.Initialize(ctx); err != nil {
		return err
	}
	e.cache.RestoreFingerprint(ctx)
	return nil
}

// Health reports the backend health snapshot.
func (e *Engine) Health() bootstrap.Health {
	return e.init.Snapshot()
}

// Ready reports whether the subsystem can serve traffic at all.
func (e *Engine) Ready() bool {
	s := e.init.Status()
	return s == bootstrap.StatusHealthy || s == bootstrap.StatusDegraded
}

// GetCachedResponse looks up a cached response for the user's query.
func (e *Engine) GetCachedResponse(ctx context.Context, userID, query string) (string, bool) {
	value, found, _ := e.cache.Get(ctx, userID, query)
	return value, found
}

// StoreResponse caches a generated response. The write is detached from the
// request context so a client disconnect cannot abort it.
func (e *Engine) StoreResponse(ctx context.Context, userID, query, response string) error {
	writeCtx, cancel := e.writeContext(ctx)
	defer cancel()
	return e.cache.Set(writeCtx, userID, query, response, 0)
}

// AppendTurn records a conversation turn in history without running the
// learning pipeline. Assistant turns go through here.
func (e *Engine) AppendTurn(ctx context.Context, userID string, role history.Role, content string) (history.Turn, error) {
	writeCtx, cancel := e.writeContext(ctx)
	defer cancel()
	return e.history.Append(writeCtx, userID, role, content)
}

// RecentHistory returns the user's recent turns, newest first.
func (e *Engine) RecentHistory(ctx context.Context, userID string, limit int) ([]history.Turn, error) {
	return e.history.Recent(ctx, userID, limit)
}

// ProcessTurn runs a user message through the learning pipeline. It degrades
// to a history-only write when semantic memory is down.
func (e *Engine) ProcessTurn(ctx context.Context, userID, text string) (learning.Outcome, error) {
	writeCtx, cancel := e.writeContext(ctx)
	defer cancel()
	outcome, err := e.pipeline.ProcessTurn(writeCtx, userID, text)
	if err != nil {
		// History is key-value backed; a failure here may mean the tier
		// dropped after startup. Re-probe on the next health check.
		go e.reprobe()
	}
	return outcome, err
}

// QueryMemory returns the user's most relevant fragments for the query,
// correction-aware. k<=0 uses the configured default.
func (e *Engine) QueryMemory(ctx context.Context, userID, query string, k int) ([]semantic.ScoredFragment, error) {
	if !e.init.Healthy(bootstrap.BackendVector) || !e.init.Healthy(bootstrap.BackendEmbedding) {
		// Degraded memory never fails the request. The caller gets an
		// empty context and the backends get another probe.
		go e.reprobe()
		e.metrics.RecordQueryDuration("degraded", 0)
		return nil, nil
	}
	if k <= 0 {
		k = e.cfg.Memory.TopK
	}

	start := time.Now()

	// Overfetch so damping can demote stale facts without emptying the
	// result set.
	fetch := k * e.cfg.Memory.FetchMultiplier
	candidates, err := e.memory.Query(ctx, userID, query, fetch)
	if err != nil {
		e.metrics.RecordQueryDuration("error", time.Since(start))
		return nil, err
	}

	qc := ranker.QueryContext{}
	if cls := e.classifier.Classify(query); cls.Label == learning.LabelCorrection && cls.OldValue != "" {
		qc.OldValues = []string{cls.OldValue}
	}

	ranked, err := e.ranker.Rank(ctx, userID, candidates, qc)
	if err != nil {
		e.metrics.RecordQueryDuration("error", time.Since(start))
		return nil, err
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	e.metrics.RecordQueryDuration("ok", time.Since(start))
	return ranked, nil
}

// IngestDocument splits a document into fragments and stores them as
// document-sourced memories.
func (e *Engine) IngestDocument(ctx context.Context, userID, text string) (int, error) {
	if !e.init.Healthy(bootstrap.BackendVector) || !e.init.Healthy(bootstrap.BackendEmbedding) {
		return 0, ErrDegraded
	}

	writeCtx, cancel := e.writeContext(ctx)
	defer cancel()

	chunks := splitDocument(text)
	stored := 0
	for _, chunk := range chunks {
		_, err := e.memory.Upsert(writeCtx, semantic.Fragment{
			UserID:     userID,
			Text:       chunk,
			SourceType: semantic.SourceDocument,
		})
		if err != nil {
			return stored, err
		}
		e.metrics.RecordFragmentStored(string(semantic.SourceDocument))
		stored++
	}
	return stored, nil
}

// InvalidateUser clears the user's cached responses.
func (e *Engine) InvalidateUser(ctx context.Context, userID string) (int, error) {
	return e.cache.InvalidateUser(ctx, userID)
}

// InvalidateAll clears every cached response.
func (e *Engine) InvalidateAll(ctx context.Context) (int, error) {
	return e.cache.InvalidateAll(ctx)
}

// ForgetUser erases the user's history, cache entries and semantic memory.
func (e *Engine) ForgetUser(ctx context.Context, userID string) error {
	if _, err := e.cache.InvalidateUser(ctx, userID); err != nil {
		return err
	}
	if err := e.history.Clear(ctx, userID); err != nil {
		return err
	}
	_, err := e.memory.Forget(ctx, userID)
	return err
}

// OnSystemPromptChanged reacts to a new system prompt. Only the response
// cache is invalidated.
func (e *Engine) OnSystemPromptChanged(prompt string) bool {
	ctx, cancel := e.writeContext(context.Background())
	defer cancel()
	return e.cache.OnSystemPromptChanged(ctx, prompt)
}

// CacheStats returns response cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Close releases backend resources.
func (e *Engine) Close() error {
	var errs []error
	if err := e.vectors.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.kv.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// writeContext detaches a write from request cancellation while keeping its
// trace context, bounded by the storage op timeout.
func (e *Engine) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.cfg.Storage.OpTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// reprobe refreshes backend health off the request path.
func (e *Engine) reprobe() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Bootstrap.ProbeTimeout)
	defer cancel()
	if err := e.init.EnsureInitialized(ctx); err != nil {
		e.log.Warn("backend re-probe failed", "error", err)
	}
}
