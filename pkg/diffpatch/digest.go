package diffpatch

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Digest returns the lowercase hex SHA-256 digest of buf.
func Digest(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// DigestFile maps the first length bytes of path (all of it when length
// is zero) and returns the upper-cased digest.
func DigestFile(path string, length int64) (string, error) {
	m, err := MapFile(path, length)
	if err != nil {
		return "", err
	}
	defer m.Close()

	return strings.ToUpper(Digest(m.Bytes())), nil
}

// HashEqual compares two hex digests case-insensitively.
func HashEqual(a, b string) bool {
	return strings.ToUpper(strings.TrimSpace(a)) == strings.ToUpper(strings.TrimSpace(b))
}
