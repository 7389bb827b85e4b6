// Package custodian encrypts and decrypts secret recovery phrases at rest.
//
// Tokens are self-describing strings of the form
// "<nonceHex>:<tagHex>:<ciphertextHex>" (AES-256-GCM, 16-byte nonce) so any
// store column can hold them opaquely. The same key must be configured on
// every instance that reads the store.
package custodian

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// nonceSize is fixed at 16 bytes to match the persisted token format.
const nonceSize = 16

// ErrAuthentication is returned by Decrypt when the authentication tag does
// not verify: the token was tampered with or a different key is configured.
var ErrAuthentication = errors.New("custodian: authentication failed")

// ErrMalformedToken is returned by Decrypt when a token does not have the
// nonce:tag:ciphertext shape.
var ErrMalformedToken = errors.New("custodian: malformed token")

// Custodian performs authenticated encryption of mnemonics with a single
// process-wide key.
type Custodian struct {
	aead cipher.AEAD
}

// New creates a Custodian from the configured key material. The key must be
// either 32 raw bytes or a 64-character hex encoding of 32 bytes; anything
// else is a configuration error and the caller is expected to abort startup.
func New(key string) (*Custodian, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("custodian: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("custodian: init gcm: %w", err)
	}
	return &Custodian{aead: aead}, nil
}

func parseKey(key string) ([]byte, error) {
	switch {
	case key == "":
		return nil, errors.New("custodian: secret key is required")
	case len(key) == 64:
		raw, err := hex.DecodeString(key)
		if err != nil {
			return nil, errors.New("custodian: 64-character key must be hex-encoded")
		}
		return raw, nil
	case len(key) == 32:
		return []byte(key), nil
	default:
		return nil, errors.New("custodian: secret key must be 32 raw bytes or 64 hex characters")
	}
}

// Encrypt seals plaintext under a fresh random nonce and returns the opaque
// token. Two calls with the same plaintext yield different tokens.
func (c *Custodian) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("custodian: nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the tag to the ciphertext; split them so the token keeps
	// the nonce:tag:ciphertext layout the store expects.
	tagAt := len(sealed) - c.aead.Overhead()
	ct, tag := sealed[:tagAt], sealed[tagAt:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a token produced by Encrypt. It returns ErrAuthentication if
// the tag does not verify and never returns partial plaintext.
func (c *Custodian) Decrypt(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrMalformedToken
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != c.aead.Overhead() {
		return "", ErrMalformedToken
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedToken
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(plaintext), nil
}
