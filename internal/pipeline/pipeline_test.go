package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex/omnidex/internal/config"
	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
)

// fakeSource serves canned documents per provider and can be primed to
// fail on a specific document pull.
type fakeSource struct {
	mu     sync.Mutex
	docs   map[string][]*model.SearchDocument
	cursor string
	err    error
	calls  []time.Time
}

func (f *fakeSource) GetDocuments(_ context.Context, providerID string, since time.Time, _ string) ([]*model.SearchDocument, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, since)
	if f.err != nil {
		return nil, "", f.err
	}
	var out []*model.SearchDocument
	for _, d := range f.docs[providerID] {
		if d.LastModified.After(since) {
			out = append(out, d)
		}
	}
	return out, f.cursor, nil
}

func sourceDoc(id, providerID, title string) *model.SearchDocument {
	return &model.SearchDocument{
		ID:           id,
		ProviderID:   providerID,
		ProviderType: "test",
		ContentType:  model.ContentTypeDocument,
		Title:        title,
		Content:      "body of " + title,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
		LastModified: time.Now().UTC(),
	}
}

func openTestPipeline(t *testing.T, src DocumentSource, cfg config.PipelineConfig) (*Pipeline, *index.Manager) {
	t.Helper()
	idx, err := index.Open(t.TempDir(), index.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	p, err := New(idx, src, 2, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, idx
}

func waitTerminal(t *testing.T, p *Pipeline, jobID string) model.IndexingJob {
	t.Helper()
	var job model.IndexingJob
	require.Eventually(t, func() bool {
		j, err := p.Status(jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestEnqueue_FullJobIndexesAllDocuments(t *testing.T) {
	// Given a source with three documents
	src := &fakeSource{docs: map[string][]*model.SearchDocument{
		"fs": {sourceDoc("1", "fs", "alpha"), sourceDoc("2", "fs", "beta"), sourceDoc("3", "fs", "gamma")},
	}, cursor: "c1"}
	p, idx := openTestPipeline(t, src, config.PipelineConfig{})

	// When running a full job
	jobID, err := p.Enqueue(model.JobTypeFull, "fs")
	require.NoError(t, err)
	job := waitTerminal(t, p, jobID)

	// Then all documents are committed and the cursor advanced
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Progress.Total)
	assert.Equal(t, 3, job.Progress.Indexed)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	cursor, _, err := idx.Meta().Cursor("fs")
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)
}

func TestEnqueue_QueueFull(t *testing.T) {
	src := &fakeSource{}
	idx, err := index.Open(t.TempDir(), index.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	p, err := New(idx, src, 1, config.PipelineConfig{QueueSize: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	// Flood faster than the single worker drains; at least one enqueue
	// must be rejected with the retryable queue-full code.
	var sawFull bool
	for i := 0; i < 200; i++ {
		_, err := p.Enqueue(model.JobTypeFull, "fs")
		if err != nil {
			sawFull = true
			assert.Equal(t, errors.ErrCodeQueueFull, errors.GetCode(err))
			break
		}
	}
	assert.True(t, sawFull)
}

func TestRun_FailureKeepsCommittedBatches(t *testing.T) {
	// Given five documents where the fourth is invalid
	docs := []*model.SearchDocument{
		sourceDoc("1", "fs", "one"), sourceDoc("2", "fs", "two"),
		sourceDoc("3", "fs", "three"), sourceDoc("4", "fs", "four"),
		sourceDoc("5", "fs", "five"),
	}
	docs[3].ContentType = "" // fails validation at upsert
	src := &fakeSource{docs: map[string][]*model.SearchDocument{"fs": docs}}
	p, idx := openTestPipeline(t, src, config.PipelineConfig{BatchSize: 2})

	// When the job runs
	jobID, err := p.Enqueue(model.JobTypeFull, "fs")
	require.NoError(t, err)
	job := waitTerminal(t, p, jobID)

	// Then the job is failed with the offending document recorded
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "fs/4", job.Error.DocumentID)

	// And the batches committed before the failure survive
	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	// And the cursor did not advance
	cursor, _, err := idx.Meta().Cursor("fs")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestRun_FailedJobIsReEnqueueable(t *testing.T) {
	src := &fakeSource{err: errors.ProviderError("fs", "pull failed", nil)}
	p, idx := openTestPipeline(t, src, config.PipelineConfig{})

	jobID, err := p.Enqueue(model.JobTypeFull, "fs")
	require.NoError(t, err)
	job := waitTerminal(t, p, jobID)
	assert.Equal(t, model.JobStatusFailed, job.Status)

	// A fresh job for the same provider succeeds once the source recovers.
	src.mu.Lock()
	src.err = nil
	src.docs = map[string][]*model.SearchDocument{"fs": {sourceDoc("1", "fs", "alpha")}}
	src.mu.Unlock()

	retryID, err := p.Enqueue(model.JobTypeFull, "fs")
	require.NoError(t, err)
	retry := waitTerminal(t, p, retryID)
	assert.Equal(t, model.JobStatusCompleted, retry.Status)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRun_IncrementalSkipsUnchangedDocuments(t *testing.T) {
	doc := sourceDoc("1", "fs", "alpha")
	src := &fakeSource{docs: map[string][]*model.SearchDocument{"fs": {doc}}}
	p, idx := openTestPipeline(t, src, config.PipelineConfig{})

	// Given a completed full pass
	jobID, err := p.Enqueue(model.JobTypeFull, "fs")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, waitTerminal(t, p, jobID).Status)

	v1, err := idx.Version(doc.Key())
	require.NoError(t, err)

	// When an incremental pass sees the same unchanged document
	src.mu.Lock()
	doc.LastModified = time.Now().UTC().Add(time.Hour)
	src.mu.Unlock()

	incID, err := p.Enqueue(model.JobTypeIncremental, "fs")
	require.NoError(t, err)
	inc := waitTerminal(t, p, incID)

	// Then the checksum match skips the re-index
	assert.Equal(t, model.JobStatusCompleted, inc.Status)
	assert.Equal(t, 0, inc.Progress.Indexed)

	v2, err := idx.Version(doc.Key())
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestCancel_QueuedJob(t *testing.T) {
	src := &fakeSource{}
	p, _ := openTestPipeline(t, src, config.PipelineConfig{})

	jobID, err := p.Enqueue(model.JobTypeFull, "fs")
	require.NoError(t, err)
	// Best effort: the worker may have already picked the job up.
	_ = p.Cancel(jobID)

	job := waitTerminal(t, p, jobID)
	assert.Contains(t,
		[]model.JobStatus{model.JobStatusCancelled, model.JobStatusCompleted},
		job.Status)

	// A terminal job cannot be cancelled again.
	err = p.Cancel(jobID)
	require.Error(t, err)
}

func TestCancel_UnknownJob(t *testing.T) {
	src := &fakeSource{}
	p, _ := openTestPipeline(t, src, config.PipelineConfig{})

	err := p.Cancel("no-such-job")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeJobNotFound, errors.GetCode(err))
}

func TestJobs_RetentionEvictsOldestTerminal(t *testing.T) {
	src := &fakeSource{}
	p, _ := openTestPipeline(t, src, config.PipelineConfig{RetainJobs: 3})

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := p.Enqueue(model.JobTypeFull, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
		waitTerminal(t, p, id)
		ids = append(ids, id)
	}

	// Then only the newest three terminal jobs remain
	assert.Len(t, p.Jobs(), 3)
	_, err := p.Status(ids[0])
	require.Error(t, err)
	_, err = p.Status(ids[4])
	require.NoError(t, err)
}

func TestSubmitDocument_RealtimeVisibility(t *testing.T) {
	src := &fakeSource{}
	p, idx := openTestPipeline(t, src, config.PipelineConfig{})

	// When a watcher submits a document
	doc := sourceDoc("rt-1", "fs", "realtime note")
	require.NoError(t, p.SubmitDocument(doc))

	// Then it is committed without waiting for a job
	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	// Resubmitting the unchanged document is a no-op
	v1, err := idx.Version(doc.Key())
	require.NoError(t, err)
	require.NoError(t, p.SubmitDocument(sourceDoc("rt-1", "fs", "realtime note")))
	v2, err := idx.Version(doc.Key())
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	// And removal is immediate as well
	require.NoError(t, p.RemoveDocument("fs", "rt-1"))
	count, err = idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestEnqueue_AfterCloseRejected(t *testing.T) {
	src := &fakeSource{}
	idx, err := index.Open(t.TempDir(), index.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	p, err := New(idx, src, 1, config.PipelineConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Enqueue(model.JobTypeFull, "fs")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeShuttingDown, errors.GetCode(err))
}
