// Package fingerprint computes the content hash used as the universal
// key for dedup and storage paths.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyInput is returned when there are no bytes to hash.
var ErrEmptyInput = errors.New("fingerprint: empty input")

// Compute returns the lowercase hex SHA-256 digest of data. Identical
// byte content always yields an identical digest.
func Compute(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeReader hashes everything readable from r.
func ComputeReader(r io.Reader) (string, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", fmt.Errorf("fingerprint: read failed: %w", err)
	}
	if n == 0 {
		return "", ErrEmptyInput
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
