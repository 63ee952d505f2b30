package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iggydv12/waypoint/internal/logging"
)

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "waypoint.log")
	logger, err := logging.New(logging.Options{File: path})
	require.NoError(t, err)

	logger.Info("hello file")
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.NotContains(t, string(data), "hidden")
}

func TestVerbose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waypoint.log")
	logger, err := logging.New(logging.Options{Verbose: true, File: path})
	require.NoError(t, err)

	logger.Debug("shown")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown")
}
