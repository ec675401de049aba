// Package tokencrypto encrypts upstream provider tokens at rest (spec.md
// §4.5: "MXCP never persists a provider's raw access/refresh tokens in
// plaintext"). It uses JWE direct symmetric encryption via go-jose, the same
// JOSE stack the rest of the gateway uses for token verification, rather
// than hand-rolling an AEAD scheme over crypto/cipher.
package tokencrypto

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Sealer encrypts and decrypts small JSON payloads (provider token sets)
// with a single symmetric key shared across a ReloadGeneration.
type Sealer struct {
	key []byte
}

// NewSealer builds a Sealer from a 32-byte A256GCM key, typically resolved
// from configuration via internal/secrets (e.g. "${MXCP_TOKEN_ENC_KEY}").
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("tokencrypto: key must be 32 bytes for A256GCM, got %d", len(key))
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext into a compact JWE string.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	encrypter, err := jose.NewEncrypter(jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, nil)
	if err != nil {
		return nil, fmt.Errorf("tokencrypto: building encrypter: %w", err)
	}
	obj, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("tokencrypto: encrypting: %w", err)
	}
	serialized, err := obj.CompactSerialize()
	if err != nil {
		return nil, fmt.Errorf("tokencrypto: serializing: %w", err)
	}
	return []byte(serialized), nil
}

// Open decrypts a compact JWE string produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	obj, err := jose.ParseEncrypted(string(sealed),
		[]jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("tokencrypto: parsing: %w", err)
	}
	plaintext, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, fmt.Errorf("tokencrypto: decrypting: %w", err)
	}
	return plaintext, nil
}
