// Package engine is the composition root of Omnidex. An Engine wires the
// persistent index, the provider registry, the indexing pipeline, and the
// performance monitor behind a single search-and-ingest surface. All
// dependencies are passed in explicitly; nothing here reaches for globals.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/omnidex/omnidex/internal/config"
	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
	"github.com/omnidex/omnidex/internal/pipeline"
	"github.com/omnidex/omnidex/internal/provider"
	"github.com/omnidex/omnidex/internal/query"
	"github.com/omnidex/omnidex/internal/telemetry"
)

const (
	cacheSize = 256
	cacheTTL  = 30 * time.Second
)

// HealthStatus is the engine-level health snapshot.
type HealthStatus struct {
	IsHealthy      bool                   `json:"is_healthy"`
	TotalDocuments uint64                 `json:"total_documents"`
	Recovered      bool                   `json:"recovered"`
	ProviderHealth []model.ProviderHealth `json:"provider_health,omitempty"`

	Performance *telemetry.PerformanceMetrics `json:"performance,omitempty"`
}

// Engine is the unified search engine facade.
type Engine struct {
	cfg      *config.Config
	index    *index.Manager
	registry *provider.Registry
	pipeline *pipeline.Pipeline
	monitor  *telemetry.Monitor
	query    *query.Processor
	logger   *slog.Logger

	// cache holds recent query responses; any write path purges it.
	cache *expirable.LRU[string, *model.SearchResponse]

	mu     sync.Mutex
	closed bool
}

// New wires an engine from its explicitly constructed parts.
func New(cfg *config.Config, idx *index.Manager, reg *provider.Registry,
	pipe *pipeline.Pipeline, mon *telemetry.Monitor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		index:    idx,
		registry: reg,
		pipeline: pipe,
		monitor:  mon,
		query:    query.NewProcessor(idx, logger),
		logger:   logger,
		cache:    expirable.NewLRU[string, *model.SearchResponse](cacheSize, nil, cacheTTL),
	}
}

// Search answers one query: the local index leg plus a federated fan-out to
// realtime-capable providers, merged, deduplicated, and paginated. The
// federation budget is the query timeout when set, otherwise the configured
// response-time target.
func (e *Engine) Search(ctx context.Context, q *model.SearchQuery) (*model.SearchResponse, error) {
	start := time.Now()

	key := cacheKey(q)
	if key != "" {
		if resp, ok := e.cache.Get(key); ok {
			e.monitor.RecordSearch(q.Query, len(resp.Results), time.Since(start), telemetry.OutcomeOK)
			return resp, nil
		}
	}

	limit := q.EffectiveLimit()

	// The local leg fetches the full window so pagination applies to the
	// merged set, not to the index leg alone.
	local := *q
	local.Offset = 0
	local.Limit = q.Offset + limit

	localResp, err := e.query.Search(ctx, &local)
	if err != nil {
		e.monitor.RecordSearch(q.Query, 0, time.Since(start), searchOutcome(err))
		return nil, err
	}

	budget := e.cfg.ResponseTarget()
	if q.Timeout > 0 {
		budget = q.Timeout
	}

	fanStart := time.Now()
	responses, timings := e.registry.SearchAll(ctx, q, budget)
	if len(timings) > 0 {
		e.monitor.Record(telemetry.OpFederation, time.Since(fanStart), federationOutcome(timings))
	}

	mergeStart := time.Now()
	merged, total := mergeResults(localResp, responses)
	paged := paginate(merged, q.Offset, limit)

	resp := &model.SearchResponse{
		Results:           paged,
		TotalCount:        total,
		Facets:            localResp.Facets,
		TookMS:            time.Since(start).Milliseconds(),
		ProviderResponses: responses,
	}
	if q.Debug {
		debug := localResp.Debug
		if debug == nil {
			debug = &model.DebugInfo{}
		}
		debug.MergeMS = time.Since(mergeStart).Milliseconds()
		debug.Providers = timings
		resp.Debug = debug
	}

	e.monitor.RecordSearch(q.Query, len(paged), time.Since(start), telemetry.OutcomeOK)
	if key != "" {
		e.cache.Add(key, resp)
	}
	return resp, nil
}

// mergeResults combines the local leg with provider responses, deduplicating
// on (provider_id, id) and preferring the higher-scored copy.
func mergeResults(local *model.SearchResponse, responses []model.ProviderResponse) ([]model.SearchResult, int) {
	byKey := make(map[string]model.SearchResult, len(local.Results))
	order := make([]string, 0, len(local.Results))
	for _, r := range local.Results {
		k := r.Key()
		byKey[k] = r
		order = append(order, k)
	}
	for _, pr := range responses {
		for _, r := range pr.Results {
			k := r.Key()
			prev, seen := byKey[k]
			if !seen {
				byKey[k] = r
				order = append(order, k)
				continue
			}
			if r.Score > prev.Score {
				byKey[k] = r
			}
		}
	}

	merged := make([]model.SearchResult, 0, len(order))
	for _, k := range order {
		merged = append(merged, byKey[k])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		return a.ID < b.ID
	})

	total := local.TotalCount + (len(merged) - len(local.Results))
	return merged, total
}

func paginate(results []model.SearchResult, offset, limit int) []model.SearchResult {
	if offset >= len(results) {
		return []model.SearchResult{}
	}
	end := min(offset+limit, len(results))
	return results[offset:end]
}

// cacheKey returns a stable key for a query, or "" when the query must not
// be cached (debug requests bypass the cache).
func cacheKey(q *model.SearchQuery) string {
	if q.Debug {
		return ""
	}
	data, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func searchOutcome(err error) telemetry.Outcome {
	if errors.GetCode(err) == errors.ErrCodeNetworkTimeout {
		return telemetry.OutcomeTimeout
	}
	return telemetry.OutcomeError
}

func federationOutcome(timings []model.ProviderTiming) telemetry.Outcome {
	for _, t := range timings {
		if t.TimedOut {
			return telemetry.OutcomeTimeout
		}
	}
	return telemetry.OutcomeOK
}

var _ provider.DocumentSink = (*Engine)(nil)

// SubmitDocument indexes one document immediately through the realtime path.
func (e *Engine) SubmitDocument(doc *model.SearchDocument) error {
	start := time.Now()
	err := e.pipeline.SubmitDocument(doc)
	e.monitor.Record(telemetry.OpIndex, time.Since(start), indexOutcome(err))
	if err == nil {
		e.cache.Purge()
	}
	return err
}

// RemoveDocument deletes one document immediately through the realtime path.
func (e *Engine) RemoveDocument(providerID, docID string) error {
	start := time.Now()
	err := e.pipeline.RemoveDocument(providerID, docID)
	e.monitor.Record(telemetry.OpIndex, time.Since(start), indexOutcome(err))
	if err == nil {
		e.cache.Purge()
	}
	return err
}

func indexOutcome(err error) telemetry.Outcome {
	if err != nil {
		return telemetry.OutcomeError
	}
	return telemetry.OutcomeOK
}

// EnqueueIndexing schedules a full or incremental indexing job.
// The query cache is purged up front; the TTL covers documents the job
// commits after this call returns.
func (e *Engine) EnqueueIndexing(jobType model.JobType, providerID string) (string, error) {
	jobID, err := e.pipeline.Enqueue(jobType, providerID)
	if err == nil {
		e.cache.Purge()
	}
	return jobID, err
}

// JobStatus reports one indexing job.
func (e *Engine) JobStatus(jobID string) (model.IndexingJob, error) {
	return e.pipeline.Status(jobID)
}

// Jobs lists known indexing jobs, newest first.
func (e *Engine) Jobs() []model.IndexingJob {
	return e.pipeline.Jobs()
}

// CancelJob requests cooperative cancellation of a job.
func (e *Engine) CancelJob(jobID string) error {
	return e.pipeline.Cancel(jobID)
}

// Watchers returns the registered providers that can push realtime
// change events. The engine itself is the sink to hand them.
func (e *Engine) Watchers() []provider.Watcher {
	var out []provider.Watcher
	for _, info := range e.registry.List() {
		p, err := e.registry.Get(info.ID)
		if err != nil {
			continue
		}
		if w, ok := p.(provider.Watcher); ok {
			out = append(out, w)
		}
	}
	return out
}

// AuthenticateProvider validates credentials against a provider and
// persists them in the credential store on success.
func (e *Engine) AuthenticateProvider(ctx context.Context, providerID string, creds model.Credentials) (model.ProviderAuth, error) {
	return e.registry.Authenticate(ctx, providerID, creds)
}

// HealthStatus reports index and provider health plus performance counters.
func (e *Engine) HealthStatus(ctx context.Context) HealthStatus {
	count, err := e.index.DocCount()
	healthy := err == nil && e.index.Healthy()

	return HealthStatus{
		IsHealthy:      healthy,
		TotalDocuments: count,
		Recovered:      e.index.Recovered(),
		ProviderHealth: e.registry.HealthCheckAll(ctx),
		Performance:    e.monitor.Snapshot(),
	}
}

// Suggestions returns up to limit query completions for a prefix, drawn
// from recently searched queries and indexed titles. Returns nil when the
// suggestions feature is off or the prefix is empty.
func (e *Engine) Suggestions(ctx context.Context, prefix string, limit int) []string {
	if !e.cfg.Features.Suggestions {
		return nil
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if !strings.HasPrefix(key, prefix) {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}

	// Recent queries first: most recently used last in the ring, so walk
	// backwards to favor fresh searches.
	recent := e.monitor.RecentQueries()
	for i := len(recent) - 1; i >= 0 && len(out) < limit; i-- {
		add(recent[i])
	}

	if len(out) < limit {
		for _, title := range e.titleCompletions(ctx, prefix, limit) {
			if len(out) >= limit {
				break
			}
			add(title)
		}
	}
	return out
}

// titleCompletions pulls stored titles whose first term matches the prefix.
func (e *Engine) titleCompletions(ctx context.Context, prefix string, limit int) []string {
	pq := bleve.NewPrefixQuery(prefix)
	pq.SetField(index.FieldTitle)

	req := bleve.NewSearchRequest(pq)
	req.Size = limit
	req.Fields = []string{index.FieldTitle}

	res, err := e.index.Search(ctx, req)
	if err != nil {
		e.logger.Debug("suggestion_search_failed", slog.String("error", err.Error()))
		return nil
	}

	titles := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if title, ok := hit.Fields[index.FieldTitle].(string); ok {
			titles = append(titles, title)
		}
	}
	return titles
}

// Close shuts the engine down: pipeline first so no writes race the index,
// then providers, then the index itself.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var firstErr error
	if err := e.pipeline.Close(); err != nil {
		firstErr = err
	}
	if err := e.registry.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.logger.Info("engine_closed")
	return firstErr
}
