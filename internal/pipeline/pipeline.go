// Package pipeline executes indexing work: full and incremental jobs
// pulled through the provider registry on a bounded worker pool, plus a
// realtime document path fed by watchers. Jobs move
// Queued → Running → {Completed | Failed | Cancelled}; terminal jobs are
// immutable and retained for audit until evicted oldest-first.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/omnidex/omnidex/internal/config"
	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
	"github.com/omnidex/omnidex/internal/provider"
)

// DocumentSource pulls documents for indexing. The provider registry
// implements it; tests substitute fakes.
type DocumentSource interface {
	GetDocuments(ctx context.Context, providerID string, since time.Time, cursor string) ([]*model.SearchDocument, string, error)
}

type jobState struct {
	mu        sync.Mutex
	job       model.IndexingJob
	cancelled bool
}

func (s *jobState) snapshot() model.IndexingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

func (s *jobState) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Pipeline owns the indexing job queue and the realtime document path.
// It implements provider.DocumentSink.
type Pipeline struct {
	index  *index.Manager
	source DocumentSource
	cfg    config.PipelineConfig
	logger *slog.Logger

	pool  *ants.Pool
	queue chan string

	mu       sync.RWMutex
	jobs     map[string]*jobState
	terminal []string
	closed   bool

	// submitMu serializes the realtime single-document path so its
	// stage+commit pairs do not interleave.
	submitMu sync.Mutex

	wg       sync.WaitGroup
	shutdown chan struct{}
}

var _ provider.DocumentSink = (*Pipeline)(nil)

// New builds a pipeline with workers goroutines and a bounded queue.
func New(idx *index.Manager, source DocumentSource, workers int, cfg config.PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetainJobs <= 0 {
		cfg.RetainJobs = 100
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, errors.InternalError("create worker pool", err)
	}

	p := &Pipeline{
		index:    idx,
		source:   source,
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		queue:    make(chan string, cfg.QueueSize),
		jobs:     make(map[string]*jobState),
		shutdown: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.dispatch()
	return p, nil
}

// dispatch moves queued job IDs onto the worker pool. Submit blocks
// when all workers are busy, so the channel buffer is the queue bound.
func (p *Pipeline) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case id := <-p.queue:
			if err := p.pool.Submit(func() { p.run(id) }); err != nil {
				p.failJob(id, "", errors.InternalError("submit job to pool", err))
			}
		}
	}
}

// Enqueue creates a job and queues it for execution. A full queue is an
// immediate, retryable error rather than backpressure on the caller.
func (p *Pipeline) Enqueue(jobType model.JobType, providerID string) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", errors.New(errors.ErrCodeShuttingDown, "pipeline is shut down", nil)
	}
	state := &jobState{job: model.IndexingJob{
		ID:         uuid.NewString(),
		JobType:    jobType,
		ProviderID: providerID,
		Status:     model.JobStatusQueued,
		CreatedAt:  time.Now().UTC(),
	}}
	p.jobs[state.job.ID] = state
	p.mu.Unlock()

	select {
	case p.queue <- state.job.ID:
	default:
		p.mu.Lock()
		delete(p.jobs, state.job.ID)
		p.mu.Unlock()
		return "", errors.New(errors.ErrCodeQueueFull, "indexing queue is full", nil)
	}

	p.logger.Info("job_enqueued",
		slog.String("job", state.job.ID),
		slog.String("type", string(jobType)),
		slog.String("provider", providerID))
	return state.job.ID, nil
}

// Status returns a snapshot of a job.
func (p *Pipeline) Status(jobID string) (model.IndexingJob, error) {
	p.mu.RLock()
	state, ok := p.jobs[jobID]
	p.mu.RUnlock()
	if !ok {
		return model.IndexingJob{}, errors.New(errors.ErrCodeJobNotFound, "job "+jobID+" not found", nil)
	}
	return state.snapshot(), nil
}

// Jobs returns snapshots of all known jobs, newest first.
func (p *Pipeline) Jobs() []model.IndexingJob {
	p.mu.RLock()
	states := make([]*jobState, 0, len(p.jobs))
	for _, s := range p.jobs {
		states = append(states, s)
	}
	p.mu.RUnlock()

	jobs := make([]model.IndexingJob, 0, len(states))
	for _, s := range states {
		jobs = append(jobs, s.snapshot())
	}
	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].CreatedAt.After(jobs[i].CreatedAt) {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}
	return jobs
}

// Cancel requests cancellation. Queued jobs cancel immediately; running
// jobs observe the flag between batches. Terminal jobs are immutable.
func (p *Pipeline) Cancel(jobID string) error {
	p.mu.RLock()
	state, ok := p.jobs[jobID]
	p.mu.RUnlock()
	if !ok {
		return errors.New(errors.ErrCodeJobNotFound, "job "+jobID+" not found", nil)
	}

	state.mu.Lock()
	if state.job.Status.Terminal() {
		state.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidInput, "job "+jobID+" already finished", nil)
	}
	state.cancelled = true
	queued := state.job.Status == model.JobStatusQueued
	if queued {
		now := time.Now().UTC()
		state.job.Status = model.JobStatusCancelled
		state.job.CompletedAt = &now
	}
	state.mu.Unlock()

	if queued {
		p.finalize(state)
	}
	return nil
}

// SubmitDocument indexes one document immediately (realtime path).
func (p *Pipeline) SubmitDocument(doc *model.SearchDocument) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	if !p.index.NeedsIndex(doc.Key(), doc.ComputeChecksum()) {
		return nil
	}
	if err := p.index.Upsert(doc); err != nil {
		return err
	}
	return p.index.Commit()
}

// RemoveDocument deletes one document immediately (realtime path).
func (p *Pipeline) RemoveDocument(providerID, docID string) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	if err := p.index.Delete(providerID, docID); err != nil {
		return err
	}
	return p.index.Commit()
}

// run executes one job. Committed batches survive a later failure; the
// cursor only advances when the whole job completes.
func (p *Pipeline) run(jobID string) {
	p.mu.RLock()
	state, ok := p.jobs[jobID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	if state.isCancelled() {
		return
	}

	state.mu.Lock()
	now := time.Now().UTC()
	state.job.Status = model.JobStatusRunning
	state.job.StartedAt = &now
	job := state.job
	state.mu.Unlock()

	since, cursor := time.Time{}, ""
	indexType := model.IndexTypeFull
	if job.JobType == model.JobTypeIncremental {
		indexType = model.IndexTypeIncremental
		c, lastSync, err := p.index.Meta().Cursor(job.ProviderID)
		if err == nil {
			// A provider without a stored cursor falls back to a full scan.
			since, cursor = lastSync, c
		}
	}

	ctx := context.Background()
	docs, nextCursor, err := p.source.GetDocuments(ctx, job.ProviderID, since, cursor)
	if err != nil {
		p.failJob(jobID, "", err)
		return
	}

	state.mu.Lock()
	state.job.Progress.Total = len(docs)
	state.mu.Unlock()

	for start := 0; start < len(docs); start += p.cfg.BatchSize {
		// Cooperative cancellation between batches.
		if state.isCancelled() {
			p.cancelRunning(state)
			return
		}

		end := min(start+p.cfg.BatchSize, len(docs))
		indexed := 0
		for _, doc := range docs[start:end] {
			doc.IndexingInfo.IndexType = indexType
			if indexType == model.IndexTypeIncremental &&
				!p.index.NeedsIndex(doc.Key(), doc.ComputeChecksum()) {
				continue
			}
			if err := p.index.Upsert(doc); err != nil {
				p.failJob(jobID, doc.Key(), err)
				return
			}
			indexed++
		}
		if err := p.index.Commit(); err != nil {
			p.failJob(jobID, "", err)
			return
		}

		state.mu.Lock()
		state.job.Progress.Processed = end
		state.job.Progress.Indexed += indexed
		state.mu.Unlock()
	}

	if err := p.index.Meta().SetCursor(job.ProviderID, nextCursor, time.Now().UTC()); err != nil {
		p.failJob(jobID, "", err)
		return
	}

	state.mu.Lock()
	done := time.Now().UTC()
	state.job.Status = model.JobStatusCompleted
	state.job.CompletedAt = &done
	state.mu.Unlock()
	p.finalize(state)

	p.logger.Info("job_completed",
		slog.String("job", jobID),
		slog.String("provider", job.ProviderID),
		slog.Int("documents", len(docs)))
}

func (p *Pipeline) cancelRunning(state *jobState) {
	state.mu.Lock()
	now := time.Now().UTC()
	state.job.Status = model.JobStatusCancelled
	state.job.CompletedAt = &now
	state.mu.Unlock()
	p.finalize(state)
}

// failJob marks a job Failed. Batches committed before the failure stay
// in the index; the job may be re-enqueued.
func (p *Pipeline) failJob(jobID, docKey string, err error) {
	p.mu.RLock()
	state, ok := p.jobs[jobID]
	p.mu.RUnlock()
	if !ok {
		return
	}

	state.mu.Lock()
	now := time.Now().UTC()
	state.job.Status = model.JobStatusFailed
	state.job.Error = &model.JobError{
		DocumentID: docKey,
		Message:    err.Error(),
		Time:       now,
	}
	state.job.CompletedAt = &now
	if docKey != "" {
		state.job.Progress.Failed++
	}
	job := state.job
	state.mu.Unlock()
	p.finalize(state)

	p.logger.Error("job_failed",
		slog.String("job", job.ID),
		slog.String("provider", job.ProviderID),
		slog.String("document", docKey),
		slog.String("error", err.Error()))
}

// finalize persists a terminal job snapshot and applies the in-memory
// retention bound, evicting the oldest terminal jobs first.
func (p *Pipeline) finalize(state *jobState) {
	job := state.snapshot()
	if err := p.index.Meta().SaveJob(&job, p.cfg.RetainJobs); err != nil {
		p.logger.Warn("job_persist_failed",
			slog.String("job", job.ID),
			slog.String("error", err.Error()))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminal = append(p.terminal, job.ID)
	for len(p.terminal) > p.cfg.RetainJobs {
		evict := p.terminal[0]
		p.terminal = p.terminal[1:]
		delete(p.jobs, evict)
	}
}

// Close stops accepting work and releases the pool. Running jobs are
// cancelled cooperatively.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	states := make([]*jobState, 0, len(p.jobs))
	for _, s := range p.jobs {
		states = append(states, s)
	}
	p.mu.Unlock()

	for _, s := range states {
		s.mu.Lock()
		if !s.job.Status.Terminal() {
			s.cancelled = true
		}
		s.mu.Unlock()
	}

	close(p.shutdown)
	p.wg.Wait()
	// Wait for in-flight jobs so index writes never race the index close.
	if err := p.pool.ReleaseTimeout(10 * time.Second); err != nil {
		p.pool.Release()
	}
	return nil
}
