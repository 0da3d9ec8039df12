package router

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*Router, string, string, string) {
	t.Helper()
	root := t.TempDir()
	landing := filepath.Join(root, "landing")
	archive := filepath.Join(root, "archive")
	errDir := filepath.Join(root, "error")
	require.NoError(t, os.MkdirAll(landing, 0o755))

	failures := NewFailureLog(filepath.Join(root, "logs", "failures.log"))
	failures.now = func() time.Time { return fixedNow }

	r := NewRouter(archive, errDir, failures, zap.NewNop())
	r.now = func() time.Time { return fixedNow }
	return r, landing, archive, errDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRouter_Route(t *testing.T) {
	t.Run("success goes to archive", func(t *testing.T) {
		r, landing, archive, _ := newTestRouter(t)
		src := filepath.Join(landing, "a.csv")
		writeFile(t, src, "data")

		dst, err := r.Route(src, true)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(archive, "a.csv"), dst)
		assert.NoFileExists(t, src)
		assert.FileExists(t, dst)
	})

	t.Run("failure goes to error", func(t *testing.T) {
		r, landing, _, errDir := newTestRouter(t)
		src := filepath.Join(landing, "b.csv")
		writeFile(t, src, "data")

		dst, err := r.Route(src, false)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(errDir, "b.csv"), dst)
		assert.NoFileExists(t, src)
	})

	t.Run("existing destination gets a unique name", func(t *testing.T) {
		r, landing, archive, _ := newTestRouter(t)
		require.NoError(t, os.MkdirAll(archive, 0o755))
		writeFile(t, filepath.Join(archive, "a.csv"), "old")
		src := filepath.Join(landing, "a.csv")
		writeFile(t, src, "new")

		dst, err := r.Route(src, true)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(archive, "a.1709294400.1.csv"), dst)
		old, err := os.ReadFile(filepath.Join(archive, "a.csv"))
		require.NoError(t, err)
		assert.Equal(t, "old", string(old))
	})

	t.Run("missing source is a routing error", func(t *testing.T) {
		r, landing, _, _ := newTestRouter(t)

		_, err := r.Route(filepath.Join(landing, "gone.csv"), true)

		var routeErr *models.RoutingError
		require.True(t, errors.As(err, &routeErr))
		assert.Equal(t, models.FailureRoutingError, models.ClassifyError(err))
	})
}

func TestUniqueDestination(t *testing.T) {
	dir := t.TempDir()

	dst, err := UniqueDestination(dir, "x.csv", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.csv"), dst)

	writeFile(t, filepath.Join(dir, "x.csv"), "1")
	writeFile(t, filepath.Join(dir, "x.1709294400.1.csv"), "2")

	dst, err = UniqueDestination(dir, "x.csv", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.1709294400.2.csv"), dst)
}

func TestCopyThenRemove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.csv")
	dst := filepath.Join(dir, "dst.csv")
	writeFile(t, src, "id,room_id/id\n")

	require.NoError(t, copyThenRemove(src, dst))

	assert.NoFileExists(t, src)
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "id,room_id/id\n", string(content))

	t.Run("existing destination is left untouched", func(t *testing.T) {
		writeFile(t, src, "new")
		assert.Error(t, copyThenRemove(src, dst))
		assert.FileExists(t, src)
		content, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "id,room_id/id\n", string(content))
	})
}

func TestFailureLog_Append(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	require.NoError(t, r.LogFailure("a.csv", "", models.FailureCSVFormat, "CSV header mismatch"))
	require.NoError(t, r.LogFailure("b.csv", "6f1c1f2e-2f43-4d53-9a51-5b0b6a0e7a10", models.FailureStagingCopy, "line one\nline two"))

	content, err := os.ReadFile(r.failures.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[2024-03-01T12:00:00Z] file=a.csv run_id=- reason=csv_format_error details=CSV header mismatch", lines[0])
	assert.Equal(t, "[2024-03-01T12:00:00Z] file=b.csv run_id=6f1c1f2e-2f43-4d53-9a51-5b0b6a0e7a10 reason=staging_copy_error details=line one | line two", lines[1])
}
