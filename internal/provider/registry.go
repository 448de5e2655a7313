package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/omnidex/omnidex/internal/config"
	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/model"
	"github.com/omnidex/omnidex/internal/provider/credstore"
)

const (
	// errorRateThreshold excludes a provider from live fan-out once its
	// rolling error rate crosses this value.
	errorRateThreshold = 0.5

	// errorRateMinSamples is the minimum query count before the error
	// rate is trusted for exclusion.
	errorRateMinSamples = 5
)

// Registry owns provider instances and their auth, stats, and health
// snapshots. The snapshots are plain data guarded by one RWMutex:
// reads dominate (every federated query consults them), writes are
// low-frequency.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	auth      map[string]model.ProviderAuth
	stats     map[string]*model.ProviderStats
	health    map[string]model.ProviderHealth
	limiters  map[string]*rate.Limiter

	creds  credstore.Store
	logger *slog.Logger
}

// NewRegistry returns an empty registry backed by the given credential
// store.
func NewRegistry(creds credstore.Store, logger *slog.Logger) *Registry {
	if creds == nil {
		creds = credstore.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: make(map[string]Provider),
		auth:      make(map[string]model.ProviderAuth),
		stats:     make(map[string]*model.ProviderStats),
		health:    make(map[string]model.ProviderHealth),
		limiters:  make(map[string]*rate.Limiter),
		creds:     creds,
		logger:    logger,
	}
}

// Register initializes a provider and adds it to the registry. If the
// credential store already holds credentials for the provider, they are
// replayed through Authenticate so auth state survives restarts.
func (r *Registry) Register(ctx context.Context, p Provider, cfg config.ProviderConfig) error {
	info := p.Info()

	if err := p.Initialize(ctx, cfg.Settings); err != nil {
		return errors.ProviderError(info.ID, "initialize provider", err)
	}

	auth := model.ProviderAuth{ProviderID: info.ID, Status: model.AuthNotAuthenticated}
	if creds, ok, err := r.creds.Get(info.ID); err == nil && ok {
		if a, aerr := p.Authenticate(ctx, creds); aerr == nil {
			auth = a
		} else {
			auth.Status = model.AuthAuthenticationError
			r.logger.Warn("provider_auth_replay_failed",
				slog.String("provider", info.ID),
				slog.String("error", aerr.Error()))
		}
	}

	var limiter *rate.Limiter
	if rpm := info.Capabilities.RateLimitRPM; rpm > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[info.ID]; exists {
		return errors.ConfigError("provider "+info.ID+" already registered", nil)
	}
	r.providers[info.ID] = p
	r.order = append(r.order, info.ID)
	r.auth[info.ID] = auth
	r.stats[info.ID] = &model.ProviderStats{ProviderID: info.ID}
	r.health[info.ID] = model.ProviderHealth{ProviderID: info.ID, Status: model.HealthUnknown}
	if limiter != nil {
		r.limiters[info.ID] = limiter
	}

	r.logger.Info("provider_registered",
		slog.String("provider", info.ID),
		slog.String("type", info.ProviderType))
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return nil, errors.ProviderError(providerID, "provider not registered", nil)
	}
	return p, nil
}

// List returns provider infos in registration order.
func (r *Registry) List() []model.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]model.ProviderInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.providers[id].Info())
	}
	return infos
}

// Auth returns the auth snapshot for a provider.
func (r *Registry) Auth(providerID string) model.ProviderAuth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auth[providerID]
}

// Stats returns a copy of the rolling stats for a provider.
func (r *Registry) Stats(providerID string) model.ProviderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.stats[providerID]; ok {
		return *s
	}
	return model.ProviderStats{ProviderID: providerID}
}

// Health returns the last health snapshot for a provider.
func (r *Registry) Health(providerID string) model.ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.health[providerID]; ok {
		return h
	}
	return model.ProviderHealth{ProviderID: providerID, Status: model.HealthUnknown}
}

// Authenticate validates credentials against the provider and, on
// success, persists them in the credential store.
func (r *Registry) Authenticate(ctx context.Context, providerID string, creds model.Credentials) (model.ProviderAuth, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return model.ProviderAuth{}, err
	}

	auth, err := p.Authenticate(ctx, creds)
	if err != nil {
		r.setAuth(providerID, model.ProviderAuth{
			ProviderID: providerID,
			Status:     model.AuthAuthenticationError,
		})
		return model.ProviderAuth{}, err
	}
	if err := r.creds.Put(providerID, creds); err != nil {
		return model.ProviderAuth{}, err
	}
	r.setAuth(providerID, auth)
	return auth, nil
}

// RefreshAuth revalidates a provider's stored credentials.
func (r *Registry) RefreshAuth(ctx context.Context, providerID string) (model.ProviderAuth, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return model.ProviderAuth{}, err
	}
	auth, err := p.RefreshAuth(ctx)
	if err != nil {
		r.setAuth(providerID, model.ProviderAuth{
			ProviderID: providerID,
			Status:     model.AuthAuthenticationError,
		})
		return model.ProviderAuth{}, err
	}
	r.setAuth(providerID, auth)
	return auth, nil
}

func (r *Registry) setAuth(providerID string, auth model.ProviderAuth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auth[providerID] = auth
}

// GetDocuments pulls documents for indexing from one provider. The
// caller (pipeline) owns cursor persistence.
func (r *Registry) GetDocuments(ctx context.Context, providerID string, since time.Time, cursor string) ([]*model.SearchDocument, string, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, "", err
	}
	if !p.Ready() {
		return nil, "", errors.New(errors.ErrCodeProviderNotReady,
			"provider "+providerID+" is not ready", nil)
	}
	docs, next, err := p.Documents(ctx, since, cursor)
	if err != nil {
		return nil, "", errors.ProviderError(providerID, "pull documents", err)
	}

	r.mu.Lock()
	if s, ok := r.stats[providerID]; ok {
		s.DocumentsIndexed += uint64(len(docs))
	}
	r.mu.Unlock()
	return docs, next, nil
}

// HealthCheckAll probes every provider in parallel and stores the
// snapshots. A provider that panics or errors is reported unhealthy,
// never fatal.
func (r *Registry) HealthCheckAll(ctx context.Context) []model.ProviderHealth {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	results := make([]model.ProviderHealth, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			p, err := r.Get(id)
			if err != nil {
				results[i] = model.ProviderHealth{ProviderID: id, Status: model.HealthUnknown}
				return nil
			}
			results[i] = p.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for _, h := range results {
		r.health[h.ProviderID] = h
	}
	r.mu.Unlock()
	return results
}

// eligible decides whether a provider joins the live fan-out: it must
// declare realtime search, be ready, be authenticated (or need no
// auth), not be flagged unhealthy, sit under the error-rate threshold,
// and have a rate-limit token available.
func (r *Registry) eligible(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return false
	}
	info := p.Info()
	if !info.Capabilities.RealTimeSearch || !p.Ready() {
		return false
	}
	if auth := r.auth[id]; auth.Status != model.AuthNotAuthenticated && !auth.Valid() {
		return false
	}
	if h := r.health[id]; h.Status == model.HealthUnhealthy {
		return false
	}
	if s := r.stats[id]; s != nil &&
		s.TotalQueries >= errorRateMinSamples &&
		s.ErrorRate >= errorRateThreshold {
		return false
	}
	if l := r.limiters[id]; l != nil && !l.Allow() {
		return false
	}
	return true
}

type fanoutResult struct {
	id      string
	resp    *model.ProviderResponse
	err     error
	elapsed time.Duration
}

// SearchAll fans a query out to every eligible provider, racing a
// shared deadline. Goroutines write into a buffered channel and are
// abandoned when the deadline passes: a slow provider contributes
// nothing and its timeout counter increments exactly once. Provider
// failures never fail the search.
func (r *Registry) SearchAll(ctx context.Context, q *model.SearchQuery, budget time.Duration) ([]model.ProviderResponse, []model.ProviderTiming) {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var targets []string
	for _, id := range ids {
		if r.eligible(id) {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	results := make(chan fanoutResult, len(targets))
	for _, id := range targets {
		p, err := r.Get(id)
		if err != nil {
			continue
		}
		go func(id string, p Provider) {
			start := time.Now()
			resp, err := p.Search(ctx, q)
			results <- fanoutResult{id: id, resp: resp, err: err, elapsed: time.Since(start)}
		}(id, p)
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	responded := make(map[string]bool, len(targets))
	var responses []model.ProviderResponse
	var timings []model.ProviderTiming

collect:
	for len(responded) < len(targets) {
		select {
		case res := <-results:
			responded[res.id] = true
			timing := model.ProviderTiming{
				ProviderID:      res.id,
				ExecutionTimeMS: res.elapsed.Milliseconds(),
			}
			if res.err != nil {
				r.recordQuery(res.id, res.elapsed, res.err)
				r.logger.Warn("provider_search_failed",
					slog.String("provider", res.id),
					slog.String("error", res.err.Error()))
			} else if res.resp != nil {
				r.recordQuery(res.id, res.elapsed, nil)
				timing.ResultCount = len(res.resp.Results)
				responses = append(responses, *res.resp)
			}
			timings = append(timings, timing)
		case <-timer.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	for _, id := range targets {
		if responded[id] {
			continue
		}
		r.recordTimeout(id)
		timings = append(timings, model.ProviderTiming{
			ProviderID:      id,
			ExecutionTimeMS: budget.Milliseconds(),
			TimedOut:        true,
		})
		r.logger.Warn("provider_timeout",
			slog.String("provider", id),
			slog.Duration("budget", budget))
	}
	return responses, timings
}

// recordQuery folds one call outcome into the provider's rolling stats.
func (r *Registry) recordQuery(id string, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[id]
	if !ok {
		return
	}
	s.TotalQueries++
	latency := float64(elapsed.Milliseconds())
	s.AvgLatencyMS += (latency - s.AvgLatencyMS) / float64(s.TotalQueries)
	if err != nil {
		s.FailedQueries++
	} else {
		s.SuccessfulQueries++
		now := time.Now().UTC()
		s.LastSuccess = &now
	}
	s.ErrorRate = float64(s.FailedQueries) / float64(s.TotalQueries)
}

func (r *Registry) recordTimeout(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[id]
	if !ok {
		return
	}
	s.TotalQueries++
	s.FailedQueries++
	s.TimeoutCount++
	s.ErrorRate = float64(s.FailedQueries) / float64(s.TotalQueries)
}

// Shutdown stops all providers, continuing past individual failures.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var first error
	for _, id := range ids {
		p, err := r.Get(id)
		if err != nil {
			continue
		}
		if err := p.Shutdown(ctx); err != nil && first == nil {
			first = errors.ProviderError(id, "shutdown provider", err)
		}
	}
	return first
}
