package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/model"
)

// DocRow is the per-document bookkeeping row kept alongside the Bleve
// index: version counter, content checksum, and indexing timestamps.
type DocRow struct {
	Key        string
	ProviderID string
	Version    uint64
	Checksum   string
	IndexType  model.IndexType
	IndexedAt  time.Time
}

// MetaStore is the SQLite document-metadata store. It is the source of
// truth for document versions, per-provider sync cursors, and the
// terminal-job audit trail.
type MetaStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

const metaSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS documents (
	key         TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL,
	version     INTEGER NOT NULL,
	checksum    TEXT NOT NULL,
	index_type  TEXT NOT NULL,
	indexed_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_provider ON documents(provider_id);

CREATE TABLE IF NOT EXISTS cursors (
	provider_id TEXT PRIMARY KEY,
	cursor      TEXT NOT NULL,
	last_sync   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// OpenMetaStore opens (or creates) the metadata database at path.
// An empty path opens an in-memory store for tests. cacheMB sizes the
// SQLite page cache.
func OpenMetaStore(path string, cacheMB int) (*MetaStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.New(errors.ErrCodeMetaStore, "create metadata directory", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeMetaStore, "open metadata store", err)
	}

	// Single connection: one writer, no lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if cacheMB <= 0 {
		cacheMB = 16
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.ErrCodeMetaStore, "set metadata pragma", err)
		}
	}

	if _, err := db.Exec(metaSchema); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeMetaStore, "initialize metadata schema", err)
	}
	return &MetaStore{db: db, path: path}, nil
}

// Version returns the committed version for a document key, or 0 when
// the document has never been committed.
func (m *MetaStore) Version(key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var v uint64
	err := m.db.QueryRow(`SELECT version FROM documents WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.New(errors.ErrCodeMetaStore, "read document version", err)
	}
	return v, nil
}

// Checksum returns the committed content checksum for a key, empty when
// unknown.
func (m *MetaStore) Checksum(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c string
	err := m.db.QueryRow(`SELECT checksum FROM documents WHERE key = ?`, key).Scan(&c)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.New(errors.ErrCodeMetaStore, "read document checksum", err)
	}
	return c, nil
}

// Apply writes a committed batch in one transaction: upserted rows
// replace prior ones, deletes drop them.
func (m *MetaStore) Apply(upserts []DocRow, deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.Begin()
	if err != nil {
		return errors.New(errors.ErrCodeMetaStore, "begin metadata transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range upserts {
		_, err := tx.Exec(`
			INSERT INTO documents (key, provider_id, version, checksum, index_type, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				provider_id = excluded.provider_id,
				version     = excluded.version,
				checksum    = excluded.checksum,
				index_type  = excluded.index_type,
				indexed_at  = excluded.indexed_at`,
			row.Key, row.ProviderID, row.Version, row.Checksum,
			string(row.IndexType), row.IndexedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return errors.New(errors.ErrCodeMetaStore, "upsert document row", err)
		}
	}
	for _, key := range deletes {
		if _, err := tx.Exec(`DELETE FROM documents WHERE key = ?`, key); err != nil {
			return errors.New(errors.ErrCodeMetaStore, "delete document row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeMetaStore, "commit metadata transaction", err)
	}
	return nil
}

// Count returns the number of committed documents.
func (m *MetaStore) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, errors.New(errors.ErrCodeMetaStore, "count documents", err)
	}
	return n, nil
}

// ProviderCounts returns committed document counts keyed by provider ID.
func (m *MetaStore) ProviderCounts() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.Query(`SELECT provider_id, COUNT(*) FROM documents GROUP BY provider_id`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeMetaStore, "count documents by provider", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, errors.New(errors.ErrCodeMetaStore, "scan provider count", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// Cursor returns the stored sync cursor for a provider. A provider that
// has never synced gets an empty cursor and zero time.
func (m *MetaStore) Cursor(providerID string) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cursor, lastSync string
	err := m.db.QueryRow(`SELECT cursor, last_sync FROM cursors WHERE provider_id = ?`, providerID).
		Scan(&cursor, &lastSync)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, errors.New(errors.ErrCodeMetaStore, "read provider cursor", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, lastSync)
	if err != nil {
		return cursor, time.Time{}, nil
	}
	return cursor, ts, nil
}

// SetCursor records the provider's sync position after a successful pull.
func (m *MetaStore) SetCursor(providerID, cursor string, lastSync time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.Exec(`
		INSERT INTO cursors (provider_id, cursor, last_sync)
		VALUES (?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			cursor    = excluded.cursor,
			last_sync = excluded.last_sync`,
		providerID, cursor, lastSync.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.New(errors.ErrCodeMetaStore, "write provider cursor", err)
	}
	return nil
}

// SaveJob persists a job snapshot for the audit trail, then prunes the
// table down to retain entries (oldest first). retain <= 0 keeps all.
func (m *MetaStore) SaveJob(job *model.IndexingJob, retain int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := json.Marshal(job)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "encode job", err)
	}
	_, err = m.db.Exec(`
		INSERT INTO jobs (id, provider_id, status, created_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status  = excluded.status,
			payload = excluded.payload`,
		job.ID, job.ProviderID, string(job.Status),
		job.CreatedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return errors.New(errors.ErrCodeMetaStore, "persist job", err)
	}
	if retain > 0 {
		_, err = m.db.Exec(`
			DELETE FROM jobs WHERE id NOT IN (
				SELECT id FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?
			)`, retain)
		if err != nil {
			return errors.New(errors.ErrCodeMetaStore, "prune jobs", err)
		}
	}
	return nil
}

// Jobs returns the most recent persisted jobs, newest first.
func (m *MetaStore) Jobs(limit int) ([]*model.IndexingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := m.db.Query(`SELECT payload FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.New(errors.ErrCodeMetaStore, "list jobs", err)
	}
	defer rows.Close()

	var jobs []*model.IndexingJob
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.ErrCodeMetaStore, "scan job", err)
		}
		var job model.IndexingJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			continue // skip undecodable rows rather than failing the listing
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// Reset clears all document rows. Used by full rebuilds; cursors and the
// job audit trail survive.
func (m *MetaStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.Exec(`DELETE FROM documents`); err != nil {
		return errors.New(errors.ErrCodeMetaStore, "reset documents", err)
	}
	return nil
}

// Close closes the underlying database.
func (m *MetaStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}
