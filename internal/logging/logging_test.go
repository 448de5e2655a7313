package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: logging to a temp file without stderr mirroring
	path := filepath.Join(t.TempDir(), "test.log")
	logger, cleanup, err := Setup(Config{
		Level:         "info",
		FilePath:      path,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	// When: logging a structured event
	logger.Info("index_opened", slog.String("path", "/tmp/idx"), slog.Int("docs", 3))
	cleanup()

	// Then: the file contains valid JSON with the attributes
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "index_opened", entry["msg"])
	assert.Equal(t, "/tmp/idx", entry["path"])
	assert.EqualValues(t, 3, entry["docs"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	logger, cleanup, err := Setup(Config{
		Level:         "warn",
		FilePath:      path,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	logger.Debug("filtered out")
	logger.Info("also filtered")
	logger.Warn("kept")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "filtered")
}

func TestParseLevel_Defaults(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestRotatingFile_RotatesAtMaxSize(t *testing.T) {
	// Given: a writer with a tiny max size
	path := filepath.Join(t.TempDir(), "rot.log")
	w, err := openRotatingFile(Config{FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)
	w.maxBytes = 64 // shrink for test

	// When: writing past the limit
	for i := 0; i < 10; i++ {
		_, err := w.Write([]byte("0123456789abcdef0123456789abcdef\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Then: a rotated file exists
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
}

func TestRotatingFile_RetentionBound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rot.log")
	w, err := openRotatingFile(Config{FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)
	w.maxBytes = 16

	// Each write overflows the cap, so every write after the first
	// forces a rotation
	for i := 0; i < 6; i++ {
		_, err := w.Write([]byte("0123456789abcdef01\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Only MaxFiles rotations survive
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".2")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}
