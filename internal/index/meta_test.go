package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex/omnidex/internal/model"
)

func openTestMeta(t *testing.T) *MetaStore {
	t.Helper()
	m, err := OpenMetaStore(filepath.Join(t.TempDir(), "meta.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func docRow(key, provider string, version uint64) DocRow {
	return DocRow{
		Key:        key,
		ProviderID: provider,
		Version:    version,
		Checksum:   "abc",
		IndexType:  model.IndexTypeFull,
		IndexedAt:  time.Now().UTC(),
	}
}

func TestMetaStore_VersionUnknownKeyIsZero(t *testing.T) {
	m := openTestMeta(t)

	v, err := m.Version("fs/none")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
}

func TestMetaStore_ApplyUpsertsAndDeletes(t *testing.T) {
	m := openTestMeta(t)

	require.NoError(t, m.Apply([]DocRow{
		docRow("fs/1", "fs", 1),
		docRow("fs/2", "fs", 1),
		docRow("gh/1", "gh", 1),
	}, nil))

	// Upsert replaces, delete removes, both in one transaction
	require.NoError(t, m.Apply([]DocRow{docRow("fs/1", "fs", 2)}, []string{"fs/2"}))

	v, err := m.Version("fs/1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := m.ProviderCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"fs": 1, "gh": 1}, counts)
}

func TestMetaStore_CursorRoundTrip(t *testing.T) {
	m := openTestMeta(t)

	// Unknown provider: empty cursor
	cursor, lastSync, err := m.Cursor("fs")
	require.NoError(t, err)
	assert.Empty(t, cursor)
	assert.True(t, lastSync.IsZero())

	when := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.SetCursor("fs", "tok-1", when))
	require.NoError(t, m.SetCursor("fs", "tok-2", when.Add(time.Hour)))

	cursor, lastSync, err = m.Cursor("fs")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", cursor)
	assert.True(t, lastSync.Equal(when.Add(time.Hour)))
}

func TestMetaStore_JobRetention(t *testing.T) {
	m := openTestMeta(t)

	// Given more jobs than the retention bound
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		job := &model.IndexingJob{
			ID:         string(rune('a' + i)),
			JobType:    model.JobTypeFull,
			ProviderID: "fs",
			Status:     model.JobStatusCompleted,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, m.SaveJob(job, 3))
	}

	// Then only the newest 3 survive, newest first
	jobs, err := m.Jobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "e", jobs[0].ID)
	assert.Equal(t, "c", jobs[2].ID)
}

func TestMetaStore_SaveJobUpdatesStatus(t *testing.T) {
	m := openTestMeta(t)

	job := &model.IndexingJob{
		ID:         "job-1",
		JobType:    model.JobTypeIncremental,
		ProviderID: "gh",
		Status:     model.JobStatusRunning,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, m.SaveJob(job, 0))

	job.Status = model.JobStatusFailed
	job.Error = &model.JobError{Message: "provider unreachable", Time: time.Now().UTC()}
	require.NoError(t, m.SaveJob(job, 0))

	jobs, err := m.Jobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStatusFailed, jobs[0].Status)
	require.NotNil(t, jobs[0].Error)
	assert.Equal(t, "provider unreachable", jobs[0].Error.Message)
}

func TestMetaStore_ResetClearsDocumentsOnly(t *testing.T) {
	m := openTestMeta(t)

	require.NoError(t, m.Apply([]DocRow{docRow("fs/1", "fs", 1)}, nil))
	require.NoError(t, m.SetCursor("fs", "tok", time.Now()))

	require.NoError(t, m.Reset())

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cursor, _, err := m.Cursor("fs")
	require.NoError(t, err)
	assert.Equal(t, "tok", cursor)
}
