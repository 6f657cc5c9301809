// Package cryptox provides the at-rest protection primitives for the bot's
// document store: a keyed one-way hash for user identifiers and authenticated
// symmetric encryption for per-user payload blobs.
//
// Encryption is optional system-wide. When disabled, Seal and Open are
// identity functions, but HashID still applies: identifier privacy does not
// depend on payload encryption.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// ErrDecrypt is returned when a ciphertext cannot be authenticated or is
// structurally invalid (tampered, wrong key, truncated). It signals a
// recoverable per-entry load failure, never a reason to panic.
var ErrDecrypt = errors.New("cryptox: decrypt failed")

const nonceSize = 12

// keySalt is fixed so the same passphrase always derives the same key.
var keySalt = []byte("todobot.store.v1")

// Codec hashes identifiers and seals/opens payload blobs with a key derived
// from a process-wide secret. The zero value is not usable; construct with New.
type Codec struct {
	secret  []byte
	aead    cipher.AEAD
	encrypt bool
}

// New derives the encryption key from secret using argon2id and prepares the
// AES-256-GCM cipher. With encrypt=false the codec still hashes identifiers
// but passes payloads through unchanged.
func New(secret string, encrypt bool) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("cryptox: empty secret")
	}
	c := &Codec{secret: []byte(secret), encrypt: encrypt}
	if !encrypt {
		return c, nil
	}

	key := argon2.IDKey([]byte(secret), keySalt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: gcm init: %w", err)
	}
	c.aead = aead
	return c, nil
}

// Encrypting reports whether payloads are actually encrypted.
func (c *Codec) Encrypting() bool { return c.encrypt }

// HashID returns a stable hex digest of a raw external identifier, keyed with
// the process secret. Identical inputs always map to the same digest, so it is
// usable as the document's top-level key without storing the identifier.
func (c *Codec) HashID(raw string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Seal encrypts plaintext with a fresh random nonce. The nonce is prepended to
// the ciphertext so Open needs no out-of-band state.
func (c *Codec) Seal(plaintext []byte) ([]byte, error) {
	if !c.encrypt {
		return plaintext, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptox: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a blob produced by Seal. Any tampering,
// truncation, or key mismatch yields ErrDecrypt.
func (c *Codec) Open(blob []byte) ([]byte, error) {
	if !c.encrypt {
		return blob, nil
	}
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("%w: short ciphertext (%d bytes)", ErrDecrypt, len(blob))
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
