package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// GetFileChecksum returns the hex SHA-256 digest of the file content. This is
// the digest the idempotency gate keys on.
func GetFileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	return ReaderChecksum(file)
}

// ReaderChecksum returns the hex SHA-256 digest of everything read from r.
func ReaderChecksum(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to copy content to hasher: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CalculateRowHash fingerprints one raw row. It is stored next to the staged
// row to spot identical lines across loads; it is not collision resistant.
func CalculateRowHash(record []string) string {
	lineContent := strings.Join(record, "\x1f")

	digest := xxhash.New()
	digest.WriteString(lineContent)

	return hex.EncodeToString(digest.Sum(nil))
}
