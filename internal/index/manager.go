// Package index owns the on-disk search index: a Bleve scorch index for
// ranked retrieval plus a SQLite metadata store for document versions,
// sync cursors, and job history. Writes are staged into a batch and
// become visible only at Commit; readers always see the last committed
// snapshot.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/gofrs/flock"

	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/model"
)

const (
	bleveDirName = "index"
	metaDBName   = "meta.db"
	lockName     = "write.lock"
)

// Options configures Open.
type Options struct {
	// MemoryBudgetMB bounds cache memory (metadata page cache and, via
	// the engine, the query cache). Zero means the 256 MB default.
	MemoryBudgetMB int
	Logger         *slog.Logger
}

// Stats is a point-in-time summary of the index.
type Stats struct {
	TotalDocuments int            `json:"total_documents"`
	PerProvider    map[string]int `json:"per_provider"`
	Commits        uint64         `json:"commits"`
	LastCommit     time.Time      `json:"last_commit,omitzero"`
	Recovered      bool           `json:"recovered"`
}

type stagedOp struct {
	row    DocRow
	delete bool
}

// Manager is the single-writer handle to the index. Upsert and Delete
// stage operations; Commit applies them atomically to Bleve and the
// metadata store. Searches run concurrently against committed state.
type Manager struct {
	mu     sync.RWMutex
	index  bleve.Index
	meta   *MetaStore
	lock   *flock.Flock
	path   string
	logger *slog.Logger
	closed bool

	batchMu sync.Mutex
	batch   *bleve.Batch
	staged  map[string]stagedOp

	commits    uint64
	lastCommit time.Time
	recovered  bool
}

// Open opens or creates the index rooted at path. If the Bleve directory
// is present but its descriptor (index_meta.json) is missing, empty, or
// unparseable, the directory is quarantined aside and a fresh index is
// created; the same recovery applies when bleve.Open fails with a
// corruption-class error. Open is idempotent and safe to call on a
// half-written tree.
func Open(path string, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	budget := opts.MemoryBudgetMB
	if budget <= 0 {
		budget = 256
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.IndexError("create index directory", err)
	}

	fl := flock.New(filepath.Join(path, lockName))
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, errors.IndexError("acquire index lock", err)
	}
	if !acquired {
		return nil, errors.New(errors.ErrCodeIndexFailed,
			fmt.Sprintf("index at %s is locked by another process", path), nil)
	}

	blevePath := filepath.Join(path, bleveDirName)
	recovered := false
	if validErr := validateDescriptor(blevePath); validErr != nil {
		logger.Warn("index_corrupted",
			slog.String("path", blevePath),
			slog.String("error", validErr.Error()))
		if err := quarantine(blevePath); err != nil {
			_ = fl.Unlock()
			return nil, errors.CorruptionError("quarantine corrupted index", err)
		}
		logger.Info("index_quarantined",
			slog.String("path", blevePath),
			slog.String("reason", "descriptor invalid, rebuilding empty"))
		recovered = true
	}

	idx, err := openBleve(blevePath)
	if err != nil && isCorruptionError(err) {
		logger.Warn("index_open_failed",
			slog.String("path", blevePath),
			slog.String("error", err.Error()))
		if qerr := quarantine(blevePath); qerr != nil {
			_ = fl.Unlock()
			return nil, errors.CorruptionError("quarantine corrupted index", qerr)
		}
		recovered = true
		idx, err = openBleve(blevePath)
	}
	if err != nil {
		_ = fl.Unlock()
		return nil, errors.IndexError("open index", err)
	}

	// Metadata cache gets a small slice of the budget; Bleve and the
	// engine-level caches take the rest.
	meta, err := OpenMetaStore(filepath.Join(path, metaDBName), budget/8)
	if err != nil {
		_ = idx.Close()
		_ = fl.Unlock()
		return nil, err
	}
	if recovered {
		// Bleve state is gone; version rows must not outlive it.
		if err := meta.Reset(); err != nil {
			_ = idx.Close()
			_ = meta.Close()
			_ = fl.Unlock()
			return nil, err
		}
	}

	m := &Manager{
		index:     idx,
		meta:      meta,
		lock:      fl,
		path:      path,
		logger:    logger,
		staged:    make(map[string]stagedOp),
		recovered: recovered,
	}
	m.batch = idx.NewBatch()
	return m, nil
}

// validateDescriptor checks the Bleve descriptor before opening.
// Returns nil when the index is absent (it will be created) or the
// descriptor parses; detection is deliberately limited to the
// descriptor, deeper segment damage surfaces through bleve.Open.
func validateDescriptor(blevePath string) error {
	if _, err := os.Stat(blevePath); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(blevePath, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is not valid JSON: %w", err)
	}
	return nil
}

// isCorruptionError reports whether a bleve.Open failure indicates a
// damaged index rather than a transient problem.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

// quarantine renames a damaged index directory aside so it can be
// inspected later; if the rename fails the directory is removed.
func quarantine(blevePath string) error {
	if _, err := os.Stat(blevePath); os.IsNotExist(err) {
		return nil
	}
	dst := fmt.Sprintf("%s.corrupt.%d", blevePath, time.Now().Unix())
	if err := os.Rename(blevePath, dst); err != nil {
		return os.RemoveAll(blevePath)
	}
	return nil
}

func openBleve(blevePath string) (bleve.Index, error) {
	idx, err := bleve.Open(blevePath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		indexMapping, merr := createIndexMapping()
		if merr != nil {
			return nil, merr
		}
		return bleve.New(blevePath, indexMapping)
	}
	return idx, err
}

// Upsert stages a document into the current batch. The document gets
// the next version for its key and a fresh checksum; it becomes
// searchable only after Commit. Staging the same key twice keeps the
// last write.
func (m *Manager) Upsert(doc *model.SearchDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)
	}

	key := doc.Key()

	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	var prev uint64
	if op, ok := m.staged[key]; ok && !op.delete {
		prev = op.row.Version
	} else {
		v, err := m.meta.Version(key)
		if err != nil {
			return err
		}
		prev = v
	}

	indexType := doc.IndexingInfo.IndexType
	if indexType == "" {
		indexType = model.IndexTypeFull
	}
	doc.IndexingInfo = model.IndexingInfo{
		IndexedAt: time.Now().UTC(),
		Version:   prev + 1,
		Checksum:  doc.ComputeChecksum(),
		IndexType: indexType,
	}

	if err := m.batch.Index(key, newIndexDoc(doc)); err != nil {
		return errors.IndexError(fmt.Sprintf("stage document %s", key), err)
	}
	m.staged[key] = stagedOp{row: DocRow{
		Key:        key,
		ProviderID: doc.ProviderID,
		Version:    doc.IndexingInfo.Version,
		Checksum:   doc.IndexingInfo.Checksum,
		IndexType:  indexType,
		IndexedAt:  doc.IndexingInfo.IndexedAt,
	}}
	return nil
}

// Delete stages removal of a document by key. Deleting a key that was
// never indexed is a no-op at commit time.
func (m *Manager) Delete(providerID, docID string) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)
	}

	key := model.DocumentKey(providerID, docID)

	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	m.batch.Delete(key)
	m.staged[key] = stagedOp{delete: true}
	return nil
}

// NeedsIndex reports whether a document with the given checksum differs
// from the committed copy. Incremental syncs use this to skip unchanged
// documents.
func (m *Manager) NeedsIndex(key, checksum string) bool {
	m.batchMu.Lock()
	if op, ok := m.staged[key]; ok {
		m.batchMu.Unlock()
		return op.delete || op.row.Checksum != checksum
	}
	m.batchMu.Unlock()

	committed, err := m.meta.Checksum(key)
	if err != nil {
		return true
	}
	return committed != checksum
}

// Commit applies the staged batch atomically. On success all staged
// upserts are searchable and the metadata store reflects them; on
// failure the batch is kept so the caller may retry.
func (m *Manager) Commit() error {
	// Read lock only: searches proceed against the prior snapshot while
	// the batch applies; batchMu serializes writers.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)
	}

	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	if len(m.staged) == 0 {
		return nil
	}

	if err := m.index.Batch(m.batch); err != nil {
		return errors.New(errors.ErrCodeCommitFailed, "execute index batch", err)
	}

	upserts := make([]DocRow, 0, len(m.staged))
	var deletes []string
	for key, op := range m.staged {
		if op.delete {
			deletes = append(deletes, key)
		} else {
			upserts = append(upserts, op.row)
		}
	}
	if err := m.meta.Apply(upserts, deletes); err != nil {
		// Bleve already holds the batch; version rows self-heal on the
		// next successful commit of these keys.
		return err
	}

	staged := len(m.staged)
	m.batch = m.index.NewBatch()
	m.staged = make(map[string]stagedOp)
	m.commits++
	m.lastCommit = time.Now().UTC()

	m.logger.Debug("index_commit",
		slog.Int("operations", staged),
		slog.Uint64("commits", m.commits))
	return nil
}

// Pending returns the number of staged, uncommitted operations.
func (m *Manager) Pending() int {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()
	return len(m.staged)
}

// Search executes a prepared Bleve request against committed state.
func (m *Manager) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)
	}
	res, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("index search")
		}
		return nil, errors.IndexError("search failed", err)
	}
	return res, nil
}

// DocCount returns the number of committed documents in Bleve.
func (m *Manager) DocCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)
	}
	return m.index.DocCount()
}

// Version returns the committed version for a document key (0 when the
// key was never committed).
func (m *Manager) Version(key string) (uint64, error) {
	return m.meta.Version(key)
}

// Meta exposes the metadata store for cursors and job persistence.
func (m *Manager) Meta() *MetaStore {
	return m.meta
}

// Stats summarizes committed index state.
func (m *Manager) Stats() (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)
	}

	total, err := m.meta.Count()
	if err != nil {
		return nil, err
	}
	perProvider, err := m.meta.ProviderCounts()
	if err != nil {
		return nil, err
	}

	m.batchMu.Lock()
	commits, last := m.commits, m.lastCommit
	m.batchMu.Unlock()

	return &Stats{
		TotalDocuments: total,
		PerProvider:    perProvider,
		Commits:        commits,
		LastCommit:     last,
		Recovered:      m.recovered,
	}, nil
}

// Recovered reports whether Open had to quarantine a corrupted index.
func (m *Manager) Recovered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recovered
}

// Healthy is a cheap liveness probe: the handle is open and the on-disk
// descriptor still parses.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	return validateDescriptor(filepath.Join(m.path, bleveDirName)) == nil
}

// Rebuild drops the index and recreates it empty. Staged operations are
// discarded; sync cursors survive so providers resume from their last
// position.
func (m *Manager) Rebuild() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)
	}

	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	if err := m.index.Close(); err != nil {
		return errors.IndexError("close index for rebuild", err)
	}
	blevePath := filepath.Join(m.path, bleveDirName)
	if err := os.RemoveAll(blevePath); err != nil {
		return errors.IndexError("remove index for rebuild", err)
	}
	idx, err := openBleve(blevePath)
	if err != nil {
		m.closed = true
		return errors.IndexError("recreate index", err)
	}
	if err := m.meta.Reset(); err != nil {
		_ = idx.Close()
		m.closed = true
		return err
	}

	m.index = idx
	m.batch = idx.NewBatch()
	m.staged = make(map[string]stagedOp)
	m.logger.Info("index_rebuilt", slog.String("path", blevePath))
	return nil
}

// Close releases the index, metadata store, and the cross-process lock.
// Staged, uncommitted operations are discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var first error
	if err := m.index.Close(); err != nil {
		first = err
	}
	if err := m.meta.Close(); err != nil && first == nil {
		first = err
	}
	if err := m.lock.Unlock(); err != nil && first == nil {
		first = err
	}
	if first != nil {
		return errors.IndexError("close index", first)
	}
	return nil
}
