// Package fsutil holds the small filesystem primitives the store relies on.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TmpSuffix is the suffix of in-flight files written by WriteFileAtomic.
const TmpSuffix = ".tmp"

// WriteFileAtomic replaces path with data.
//
// Data is written to a temporary file in the same directory, synced, then
// renamed over path, so readers observe either the old or the new content.
// On failure the temporary file is removed and path is left untouched.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir, base := filepath.Split(path)
	f, err := os.CreateTemp(dir, "."+base+".*"+TmpSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write temp file: %w", err), f.Close(), os.Remove(tmpPath))
	}
	if err := f.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync temp file: %w", err), f.Close(), os.Remove(tmpPath))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmpPath))
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return errors.Join(fmt.Errorf("failed to set permissions: %w", err), os.Remove(tmpPath))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename temp file: %w", err), os.Remove(tmpPath))
	}
	return nil
}

// RemoveFile removes path. A missing file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirUsage summarizes the regular files below a directory.
type DirUsage struct {
	Files    []string
	Size     int64
	Modified time.Time
}

// Usage walks root and returns every regular file with the total size.
// In-flight temporary files are skipped.
func Usage(root string) (DirUsage, error) {
	var u DirUsage
	st, err := os.Stat(root)
	if err != nil {
		return u, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	u.Modified = st.ModTime()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), TmpSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		u.Files = append(u.Files, path)
		u.Size += info.Size()
		return nil
	})
	if err != nil {
		return u, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return u, nil
}
