package diffpatch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Copier copies content between paths. It is the only way partition
// updates write to a device.
type Copier interface {
	// CopyFile copies the first length bytes of src to dst (all of src when
	// length is zero) and returns the number of bytes written.
	CopyFile(src, dst string, length int64) (int64, error)
}

// FileCopier is the Copier for files and block devices.
type FileCopier struct{}

// CopyFile implements Copier. The destination is synced before returning.
// A regular-file destination is truncated to the copied length; a device
// keeps its trailing content.
func (FileCopier) CopyFile(src, dst string, length int64) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to open destination: %w", err)
	}
	defer out.Close()

	var n int64
	if length > 0 {
		n, err = io.CopyN(out, in, length)
	} else {
		n, err = io.Copy(out, in)
	}
	if err != nil {
		return n, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	info, err := out.Stat()
	if err != nil {
		return n, fmt.Errorf("failed to stat destination: %w", err)
	}
	if info.Mode().IsRegular() {
		if err := out.Truncate(n); err != nil {
			return n, fmt.Errorf("failed to truncate destination: %w", err)
		}
	}

	if err := out.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync destination: %w", err)
	}
	return n, nil
}

// WriteFileSync writes data to path and syncs it to disk.
func WriteFileSync(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Remove deletes path. A missing path is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
