package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex/omnidex/internal/model"
)

func TestMemory_RoundTrip(t *testing.T) {
	s := NewMemory()

	_, ok, err := s.Get("gh")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("gh", model.Credentials{"token": "secret"}))
	creds, ok, err := s.Get("gh")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "secret", creds["token"])

	// Returned map is a copy; mutating it does not touch the store
	creds["token"] = "tampered"
	again, _, _ := s.Get("gh")
	assert.Equal(t, "secret", again["token"])

	require.NoError(t, s.Delete("gh"))
	_, ok, _ = s.Get("gh")
	assert.False(t, ok)
}

func TestFile_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.yaml")

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("gh", model.Credentials{"token": "secret"}))

	// Secrets are written owner-only
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	creds, ok, err := reopened.Get("gh")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "secret", creds["token"])
}

func TestFile_DeleteRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.yaml")
	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("a", model.Credentials{"token": "1"}))
	require.NoError(t, s.Put("b", model.Credentials{"token": "2"}))
	require.NoError(t, s.Delete("a"))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	_, ok, _ := reopened.Get("a")
	assert.False(t, ok)
	_, ok, _ = reopened.Get("b")
	assert.True(t, ok)
}

func TestFile_GarbageFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\tnot yaml: ["), 0600))

	_, err := OpenFile(path)
	require.Error(t, err)
}
