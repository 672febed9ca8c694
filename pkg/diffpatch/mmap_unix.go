//go:build unix

package diffpatch

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a read-only memory mapping of a file or block device.
type Mapping struct {
	data []byte
}

// MapFile maps the first length bytes of path read-only. A length of zero
// maps the whole content; block devices report their size by seeking to
// the end.
func MapFile(path string, length int64) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to size %s: %w", path, err)
	}
	if length < 0 || length > size {
		return nil, fmt.Errorf("cannot map %d bytes of %s: content is %d bytes", length, path, size)
	}
	if length == 0 {
		length = size
	}
	if length == 0 {
		return &Mapping{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped content. It is invalid after Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Len returns the mapped length.
func (m *Mapping) Len() int {
	return len(m.data)
}

// Close unmaps the content.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}
