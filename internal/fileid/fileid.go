// Package fileid derives stable identifiers and content hashes for source files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileID returns the cache-scoped identifier for a source file: its base name
// without extension, with characters unsafe in file names replaced by '_',
// followed by the first 8 hex digits of the SHA-256 of its absolute path.
// Files sharing a stem, such as brochure.pdf next to brochure.xlsx or the same
// name in two subdirectories, get distinct identifiers.
func FileID(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		b.WriteString("file")
	}
	b.WriteByte('_')
	b.WriteString(PathHash(path))
	return b.String()
}

// PathHash returns the first 8 hex digits of the SHA-256 of the absolute,
// slash-separated form of path.
func PathHash(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(filepath.ToSlash(filepath.Clean(path))))
	return hex.EncodeToString(sum[:4])
}

// ContentHash streams the file at path through SHA-256 and returns the hex digest.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
