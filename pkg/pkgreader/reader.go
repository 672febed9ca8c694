// Package pkgreader reads update packages. A package is a zip archive; an
// entry may be stored xz-compressed under its name plus ".xz", in which case
// it is decompressed transparently. Stored xz entries are sized from the xz
// index without decompressing them.
package pkgreader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"

	"github.com/openfroyo/otaupdater/pkg/script"
)

const xzSuffix = ".xz"

// Reader is a script.PackageReader over a zip archive.
type Reader struct {
	file    *os.File
	zr      *zip.Reader
	entries map[string]*zip.File

	// mu protects sizes, the cached unpacked sizes of xz entries.
	mu    sync.Mutex
	sizes map[string]int64

	logger zerolog.Logger
}

// Open opens the package at path.
func Open(path string, logger zerolog.Logger) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package %s: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat package %s: %w", path, err)
	}
	zr, err := zip.NewReader(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to open package %s: %w", path, err)
	}

	r := &Reader{
		file:    file,
		zr:      zr,
		entries: make(map[string]*zip.File, len(zr.File)),
		sizes:   make(map[string]int64),
		logger:  logger,
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		r.entries[f.Name] = f
	}

	logger.Debug().
		Str("package", path).
		Int("entries", len(r.entries)).
		Msg("Update package opened")
	return r, nil
}

// Close closes the archive.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Names returns the logical entry names in sorted order.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, strings.TrimSuffix(name, xzSuffix))
	}
	sort.Strings(names)
	return names
}

// lookup resolves a logical name to its archive entry.
func (r *Reader) lookup(name string) (*zip.File, bool, bool) {
	if f, ok := r.entries[name]; ok {
		return f, false, true
	}
	if f, ok := r.entries[name+xzSuffix]; ok {
		return f, true, true
	}
	return nil, false, false
}

// FileInfo implements script.PackageReader.
func (r *Reader) FileInfo(name string) (script.FileInfo, bool) {
	f, isXZ, ok := r.lookup(name)
	if !ok {
		return script.FileInfo{}, false
	}

	info := script.FileInfo{
		Name:         name,
		PackedSize:   int64(f.CompressedSize64),
		UnpackedSize: int64(f.UncompressedSize64),
		Compressed:   isXZ || f.Method != zip.Store,
	}
	if !isXZ {
		return info, true
	}

	size, err := r.xzSize(name, f)
	if err != nil {
		r.logger.Warn().Err(err).Str("entry", name).Msg("Failed to size xz entry")
		return script.FileInfo{}, false
	}
	info.PackedSize = int64(f.UncompressedSize64)
	info.UnpackedSize = size
	return info, true
}

func (r *Reader) xzSize(name string, f *zip.File) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if size, ok := r.sizes[name]; ok {
		return size, nil
	}

	var size int64
	if f.Method == zip.Store {
		offset, err := f.DataOffset()
		if err != nil {
			return 0, fmt.Errorf("failed to locate entry data: %w", err)
		}
		size, err = xzUnpackedSize(io.NewSectionReader(r.file, offset, int64(f.CompressedSize64)), int64(f.CompressedSize64))
		if err != nil {
			return 0, err
		}
	} else {
		// A deflated xz entry cannot be read from the end; count its bytes.
		r.logger.Debug().Str("entry", name).Msg("Sizing deflated xz entry by decompression")
		var err error
		size, err = r.copyEntry(f, true, io.Discard)
		if err != nil {
			return 0, err
		}
	}
	r.sizes[name] = size
	return size, nil
}

// ExtractFile implements script.PackageReader.
func (r *Reader) ExtractFile(name string, w io.Writer) error {
	f, isXZ, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("package entry not found: %s", name)
	}
	if _, err := r.copyEntry(f, isXZ, w); err != nil {
		return fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return nil
}

// ReadFile returns the unpacked content of an entry.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.ExtractFile(name, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Reader) copyEntry(f *zip.File, isXZ bool, w io.Writer) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var src io.Reader = rc
	if isXZ {
		xr, err := xz.NewReader(rc)
		if err != nil {
			return 0, fmt.Errorf("failed to open xz stream: %w", err)
		}
		src = xr
	}
	return io.Copy(w, src)
}

// CreateOutputStream implements script.PackageReader. The returned stream
// reports a short write on close when fewer than size bytes were written.
func (r *Reader) CreateOutputStream(path string, size int64, mode os.FileMode) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", path, err)
	}
	return &FileStream{f: f, expected: size}, nil
}

// CloseStream implements script.PackageReader.
func (r *Reader) CloseStream(w io.WriteCloser) error {
	return w.Close()
}

// FileStream is a sized output stream backed by a file.
type FileStream struct {
	f        *os.File
	expected int64
	written  int64
}

// Write implements io.Writer.
func (s *FileStream) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.written += int64(n)
	return n, err
}

// Path returns the file the stream writes to.
func (s *FileStream) Path() string {
	return s.f.Name()
}

// Close syncs and closes the file and checks the written size.
func (s *FileStream) Close() error {
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("failed to sync %s: %w", s.f.Name(), err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.f.Name(), err)
	}
	if s.expected >= 0 && s.written != s.expected {
		return fmt.Errorf("stream %s: wrote %d bytes, expected %d", s.f.Name(), s.written, s.expected)
	}
	return nil
}

var _ script.PackageReader = (*Reader)(nil)
