// Package pkce implements RFC 7636 Proof Key for Code Exchange, used by
// internal/authserver for both the client-facing PKCE challenge (if the
// downstream client presents one) and the internal challenge MXCP generates
// for its own leg of the upstream IdP handshake (spec.md §4.6).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierBytes follows RFC 7636's recommendation of 32 random bytes,
// base64url-encoded to 43 characters - the minimum allowed length.
const verifierBytes = 32

// GeneratePKCEVerifier returns a cryptographically random code_verifier of
// 43 characters, satisfying RFC 7636's 43-128 character requirement.
func GeneratePKCEVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pkce: generating verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ComputePKCEChallenge computes the S256 code_challenge for a verifier:
// BASE64URL-ENCODE(SHA256(ASCII(code_verifier))), without padding.
func ComputePKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyChallenge reports whether verifier hashes to challenge under the
// S256 method. method "plain" compares the verifier to the challenge
// directly; RFC 7636 permits it but MXCP's own upstream leg always uses S256.
func VerifyChallenge(method, verifier, challenge string) bool {
	switch method {
	case "plain":
		return verifier == challenge
	case "S256", "":
		return ComputePKCEChallenge(verifier) == challenge
	default:
		return false
	}
}
