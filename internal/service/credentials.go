package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// PlaintextMarker prefixes every secret handed to a caller. It is not part of
// the secret itself and is stripped before lookup.
const PlaintextMarker = "cosmic_"

const prefixLen = 8

// Credential is the stored half of a freshly issued secret, plus the one-time
// plaintext. The plaintext exists only in this value and in the creation
// response; it must never be logged or persisted.
type Credential struct {
	Prefix    string
	Hash      string
	Plaintext string
}

// issueCredential generates 32 bytes of secure randomness, rendered as a
// 64-character hex string. The first 8 characters become the cleartext lookup
// prefix; the SHA-256 of the full string becomes the stored hash.
func issueCredential() (*Credential, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto/rand failed: %w", err)
	}
	raw := hex.EncodeToString(b)
	return &Credential{
		Prefix:    raw[:prefixLen],
		Hash:      SHA256Hex(raw),
		Plaintext: PlaintextMarker + raw,
	}, nil
}

// SHA256Hex returns the hex-encoded SHA-256 hash of the input.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// splitPresented derives the lookup prefix and comparison hash from a
// presented bearer string, tolerating callers that already stripped the
// plaintext marker. ok is false when the remainder is too short to carry a
// prefix.
func splitPresented(presented string) (prefix, hash string, ok bool) {
	cleaned := strings.TrimPrefix(presented, PlaintextMarker)
	if len(cleaned) < prefixLen {
		return "", "", false
	}
	return cleaned[:prefixLen], SHA256Hex(cleaned), true
}

// hashEqual compares two hex-encoded hashes in constant time.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
