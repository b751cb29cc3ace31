package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashReader computes the lower-case hex SHA-256 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile computes the lower-case hex SHA-256 of a file's contents.
func HashFile(path string) (_ string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close failed: %w", cerr)
		}
	}()
	return HashReader(f)
}

// ValidateSHA256Checksum verifies that the file's SHA-256 matches the expected
// lower-case hex digest.
func ValidateSHA256Checksum(filePath, expectedChecksum string) error {
	computed, err := HashFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute SHA256 for %s: %w", filePath, err)
	}
	if computed != expectedChecksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedChecksum, computed)
	}
	return nil
}
