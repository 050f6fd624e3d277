// Package hashing provides the SHA-256 fingerprinting used for file
// hashes and block hashes. All hashes are lowercase hex-encoded.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Sum256 returns the hex-encoded SHA-256 of data.
func Sum256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Sum256String returns the hex-encoded SHA-256 of the UTF-8 bytes of s.
func Sum256String(s string) string {
	return Sum256([]byte(s))
}

// Sum256File streams the file at path through SHA-256 and returns the
// hex-encoded digest.
func Sum256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
