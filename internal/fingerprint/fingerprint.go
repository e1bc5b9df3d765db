// Package fingerprint computes and validates content fingerprints.
//
// A fingerprint is the lowercase hex encoding of the SHA-256 digest of a
// file's bytes. It is the deduplication key for the whole system, so both
// sides of the wire must normalize identically before comparing or looking
// one up: all functions here return (or expect) the normalized form.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// HexLength is the length of a normalized fingerprint: 64 hex characters
// encoding a 256-bit digest.
const HexLength = 64

// algPrefix is the optional transport prefix some producers attach to a
// digest. Stripped case-insensitively during normalization.
const algPrefix = "sha256:"

// Compute reads r to the end and returns the normalized fingerprint of its
// content. When r is also an io.Seeker, the read position is restored to
// where it started on every exit path, so the caller can re-read the same
// bytes afterwards (for example to upload them).
func Compute(r io.Reader) (string, error) {
	if s, ok := r.(io.Seeker); ok {
		start, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return "", fmt.Errorf("recording stream position: %w", err)
		}

		defer s.Seek(start, io.SeekStart) //nolint:errcheck // best-effort restore
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeFile returns the normalized fingerprint of the file at path.
func ComputeFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: caller-chosen local file
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fp, err := Compute(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return fp, nil
}

// Normalize converts a raw fingerprint string to canonical form: surrounding
// whitespace is trimmed, a leading "sha256:" tag is stripped regardless of
// case, and the remainder is lowercased. Blank input normalizes to the empty
// string, which IsValid treats as invalid; it is never an error.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= len(algPrefix) && strings.EqualFold(s[:len(algPrefix)], algPrefix) {
		s = s[len(algPrefix):]
	}

	return strings.ToLower(s)
}

// IsValid reports whether raw normalizes to exactly 64 hex characters.
func IsValid(raw string) bool {
	s := Normalize(raw)
	if len(s) != HexLength {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
