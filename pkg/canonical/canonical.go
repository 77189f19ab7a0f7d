// Package canonical provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization and SHA-256 hashing for trace artifacts, plus the hash-chained
// event log used by the trace store and the audit-pack exporter.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

const (
	// HashAlgo names the digest used for every content hash.
	HashAlgo = "sha256"
	// JSONAlgo names the canonical serialization used as hash input.
	JSONAlgo = "json_sort_keys_utf8_compact_v1"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// Map keys are sorted by UTF-8 bytes, whitespace is stripped, and HTML
// escaping is disabled. Struct values are first marshaled through
// encoding/json so tags are respected, then re-canonicalized.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}

// HashBytes computes the SHA-256 hash of raw bytes as a hex string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the SHA-256 hex digest of the canonical JSON form of v.
func Hash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// MustHash is Hash for values known to be JSON-serializable.
// It panics on marshal failure and is reserved for internally built payloads.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}
