package pkgreader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	xzHeaderLen = 12
	xzFooterLen = 12

	// maxXZIndexSize bounds the index read into memory.
	maxXZIndexSize = 16 << 20
)

var (
	xzHeaderMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	xzFooterMagic = []byte{'Y', 'Z'}

	errXZFormat = errors.New("malformed xz stream")
)

// xzUnpackedSize returns the uncompressed size of the xz file in ra by
// walking the stream footers and indexes from the end. Concatenated streams
// and stream padding are supported. Nothing is decompressed.
func xzUnpackedSize(ra io.ReaderAt, size int64) (int64, error) {
	var total int64
	streams := 0
	end := size

	for end > 0 {
		var word [4]byte
		for end >= 4 {
			if _, err := ra.ReadAt(word[:], end-4); err != nil {
				return 0, fmt.Errorf("failed to read stream padding: %w", err)
			}
			if word != [4]byte{} {
				break
			}
			end -= 4
		}
		if end == 0 {
			break
		}
		if end < xzHeaderLen+xzFooterLen {
			return 0, fmt.Errorf("%w: truncated stream", errXZFormat)
		}

		footer := make([]byte, xzFooterLen)
		if _, err := ra.ReadAt(footer, end-xzFooterLen); err != nil {
			return 0, fmt.Errorf("failed to read stream footer: %w", err)
		}
		if !bytes.Equal(footer[10:], xzFooterMagic) {
			return 0, fmt.Errorf("%w: bad footer magic", errXZFormat)
		}
		if crc32.ChecksumIEEE(footer[4:10]) != binary.LittleEndian.Uint32(footer[0:4]) {
			return 0, fmt.Errorf("%w: footer checksum mismatch", errXZFormat)
		}

		indexSize := (int64(binary.LittleEndian.Uint32(footer[4:8])) + 1) * 4
		indexStart := end - xzFooterLen - indexSize
		if indexSize > maxXZIndexSize || indexStart < xzHeaderLen {
			return 0, fmt.Errorf("%w: index of %d bytes does not fit", errXZFormat, indexSize)
		}
		index := make([]byte, indexSize)
		if _, err := ra.ReadAt(index, indexStart); err != nil {
			return 0, fmt.Errorf("failed to read stream index: %w", err)
		}
		unpacked, blocks, err := parseXZIndex(index)
		if err != nil {
			return 0, err
		}

		streamStart := indexStart - blocks - xzHeaderLen
		if streamStart < 0 {
			return 0, fmt.Errorf("%w: blocks exceed stream", errXZFormat)
		}
		magic := make([]byte, len(xzHeaderMagic))
		if _, err := ra.ReadAt(magic, streamStart); err != nil {
			return 0, fmt.Errorf("failed to read stream header: %w", err)
		}
		if !bytes.Equal(magic, xzHeaderMagic) {
			return 0, fmt.Errorf("%w: bad header magic", errXZFormat)
		}

		total += unpacked
		streams++
		end = streamStart
	}

	if streams == 0 {
		return 0, fmt.Errorf("%w: no stream", errXZFormat)
	}
	return total, nil
}

// parseXZIndex returns the total uncompressed size and the total padded
// size of the blocks listed in one stream index.
func parseXZIndex(index []byte) (int64, int64, error) {
	if len(index) < 8 || index[0] != 0 {
		return 0, 0, fmt.Errorf("%w: bad index indicator", errXZFormat)
	}
	body := index[:len(index)-4]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(index[len(index)-4:]) {
		return 0, 0, fmt.Errorf("%w: index checksum mismatch", errXZFormat)
	}

	p := 1
	records, err := readXZVarint(body, &p)
	if err != nil {
		return 0, 0, err
	}

	var unpacked, blocks int64
	for i := uint64(0); i < records; i++ {
		unpadded, err := readXZVarint(body, &p)
		if err != nil {
			return 0, 0, err
		}
		uncompressed, err := readXZVarint(body, &p)
		if err != nil {
			return 0, 0, err
		}
		if unpadded == 0 || unpadded > 1<<62 || uncompressed > 1<<62 {
			return 0, 0, fmt.Errorf("%w: bad index record", errXZFormat)
		}
		blocks += int64((unpadded + 3) &^ 3)
		unpacked += int64(uncompressed)
		if blocks < 0 || unpacked < 0 {
			return 0, 0, fmt.Errorf("%w: index sizes overflow", errXZFormat)
		}
	}

	for ; p < len(body); p++ {
		if body[p] != 0 {
			return 0, 0, fmt.Errorf("%w: bad index padding", errXZFormat)
		}
	}
	return unpacked, blocks, nil
}

// readXZVarint decodes a multibyte integer at *p and advances *p.
func readXZVarint(b []byte, p *int) (uint64, error) {
	var v uint64
	for i := 0; i < 9; i++ {
		if *p >= len(b) {
			return 0, fmt.Errorf("%w: truncated index", errXZFormat)
		}
		c := b[*p]
		*p++
		v |= uint64(c&0x7F) << (7 * i)
		if c&0x80 == 0 {
			if c == 0 && i > 0 {
				return 0, fmt.Errorf("%w: non-minimal integer", errXZFormat)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: integer too long", errXZFormat)
}
