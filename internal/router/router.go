// Package router moves processed files out of the landing zone and records
// file-level failures.
package router

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"go.uber.org/zap"
)

type Router struct {
	archiveDir string
	errorDir   string
	failures   *FailureLog
	logger     *zap.Logger
	now        func() time.Time
}

func NewRouter(archiveDir, errorDir string, failures *FailureLog, logger *zap.Logger) *Router {
	return &Router{
		archiveDir: archiveDir,
		errorDir:   errorDir,
		failures:   failures,
		logger:     logger,
		now:        time.Now,
	}
}

// Route moves path to the archive directory when success is true and to the
// error directory otherwise. It returns the final destination path.
func (r *Router) Route(path string, success bool) (string, error) {
	dstDir := r.errorDir
	if success {
		dstDir = r.archiveDir
	}

	dst, err := r.move(path, dstDir)
	if err != nil {
		return "", &models.RoutingError{Path: path, DstDir: dstDir, Err: err}
	}

	r.logger.Debug("file routed", zap.String("source_file", filepath.Base(path)), zap.String("destination", dst))
	return dst, nil
}

// LogFailure appends one line to the failure log.
func (r *Router) LogFailure(fileName, runID, reason, details string) error {
	return r.failures.Append(fileName, runID, reason, details)
}

func (r *Router) move(src, dstDir string) (string, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating destination directory: %w", err)
	}

	dst, err := UniqueDestination(dstDir, filepath.Base(src), r.now())
	if err != nil {
		return "", err
	}

	err = os.Rename(src, dst)
	if err == nil {
		return dst, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return "", err
	}

	r.logger.Debug("cross-device move, copying instead", zap.String("source_file", src))
	if err := copyThenRemove(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// UniqueDestination returns dir/name, or dir/<base>.<unix-ts>.<n><ext> with the
// smallest n that is free when dir/name already exists.
func UniqueDestination(dir, name string, now time.Time) (string, error) {
	candidate := filepath.Join(dir, name)
	exists, err := pathExists(candidate)
	if err != nil {
		return "", err
	}
	if !exists {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s.%d.%d%s", base, now.Unix(), n, ext))
		exists, err := pathExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

func pathExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// copyThenRemove copies src to a new file at dst, syncs it, verifies the size
// and only then removes src. On any failure dst is removed so the file is
// never left in both places or in neither.
func copyThenRemove(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}

	copied, err := os.Stat(dst)
	if err != nil {
		return err
	}
	if copied.Size() != info.Size() {
		return fmt.Errorf("copy verification failed: wrote %d of %d bytes", copied.Size(), info.Size())
	}

	return os.Remove(src)
}
