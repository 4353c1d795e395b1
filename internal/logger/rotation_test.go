package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates the log file", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "braid.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "data", "braid.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "braid.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	line := []byte(`{"level":"info","message":"turn completed"}` + "\n")
	n, err := rw.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "turn completed")
}

func TestRotatingWriterRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "braid.log")

	// Zero max size forces a rotation on every write.
	rw, err := NewRotatingWriter(logFile, 0, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte(`{"level":"info","message":"turn completed"}` + "\n"))
	require.NoError(t, err)

	// The initial (empty) file is renamed aside before the write lands.
	rotated, err := filepath.Glob(filepath.Join(tmpDir, "braid.log.*"))
	require.NoError(t, err)
	assert.Len(t, rotated, 1)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "turn completed")
}

func TestRotatingWriterClose(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "braid.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)

	assert.NoError(t, rw.Close())
}

func TestCompressFile(t *testing.T) {
	tmpDir := t.TempDir()
	rotatedFile := filepath.Join(tmpDir, "braid.log.20250101-120000")

	err := os.WriteFile(rotatedFile, []byte(`{"level":"info","message":"archived"}`), 0644)
	require.NoError(t, err)

	rw := &RotatingWriter{compress: true}
	require.NoError(t, rw.compressFile(rotatedFile))

	_, err = os.Stat(rotatedFile + ".gz")
	assert.NoError(t, err)

	// The uncompressed original is removed.
	_, err = os.Stat(rotatedFile)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanup(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "braid.log")

	oldFile := logFile + ".20250101-120000"
	require.NoError(t, os.WriteFile(oldFile, []byte("old log"), 0644))

	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	freshFile := logFile + ".20250820-120000"
	require.NoError(t, os.WriteFile(freshFile, []byte("fresh log"), 0644))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	rw.cleanup()

	// Remove happens for files past maxAge only.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(oldFile)
		return os.IsNotExist(err)
	}, 2*time.Second, 20*time.Millisecond)

	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}
