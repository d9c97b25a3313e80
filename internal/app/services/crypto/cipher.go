// Package crypto provides at-rest authenticated encryption for source and
// destination forge credentials (C10). Ciphertext carries a leading version
// byte so a future key rotation can select an algorithm/key generation at
// decrypt time without a data migration. It adapts the teacher's
// packages/com.r3e.services.secrets Cipher interface from AES-GCM to
// ChaCha20-Poly1305 with an HKDF-derived per-version key, since golang.org/x/crypto
// is the dependency actually carried in go.mod.
package crypto

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Version identifies the ciphertext format/key generation used to seal a
// credential. Only VersionOne exists today; future rotations add a case here
// and in deriveKey without touching already-sealed ciphertext.
type Version byte

const (
	// VersionOne is the only defined format: ChaCha20-Poly1305 with an
	// HKDF-SHA256 derived key.
	VersionOne Version = 1
)

// Cipher encrypts and decrypts credential tokens for at-rest storage.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// cipher is the default Cipher, keyed from a single process-wide master key.
type cipher struct {
	masterKey []byte
}

// New constructs a Cipher from a master key read from the environment
// (MASTER_ENCRYPTION_KEY). The key may be any length; HKDF derives a
// fixed-size AEAD key from it per version, so operators are not required to
// supply exactly 32 bytes.
func New(masterKey []byte) (Cipher, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("crypto: master key is required")
	}
	return &cipher{masterKey: append([]byte(nil), masterKey...)}, nil
}

// Encrypt seals plaintext under VersionOne, returning
// version_byte || nonce || ciphertext.
func (c *cipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := c.aead(VersionOne)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, 1+len(nonce)+len(sealed))
	out = append(out, byte(VersionOne))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens ciphertext produced by Encrypt, dispatching on the leading
// version byte.
func (c *cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 1 {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	version := Version(ciphertext[0])
	aead, err := c.aead(version)
	if err != nil {
		return nil, err
	}
	rest := ciphertext[1:]
	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("crypto: ciphertext truncated")
	}
	nonce, sealed := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}
	return plaintext, nil
}

// aead derives the AEAD cipher.AEAD for a given ciphertext version.
func (c *cipher) aead(version Version) (stdcipher.AEAD, error) {
	switch version {
	case VersionOne:
		key, err := c.deriveKey(version)
		if err != nil {
			return nil, err
		}
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("crypto: unsupported ciphertext version %d", version)
	}
}

// deriveKey derives a fixed-size AEAD key from the master key using
// HKDF-SHA256, salted by the format version so key material never overlaps
// across rotations even if the master key is reused.
func (c *cipher) deriveKey(version Version) ([]byte, error) {
	info := []byte(fmt.Sprintf("forgemirror/credential/v%d", version))
	reader := hkdf.New(sha256.New, c.masterKey, nil, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// Noop is a pass-through Cipher used only in tests where encryption would
// otherwise obscure fixture assertions.
type Noop struct{}

func (Noop) Encrypt(plaintext []byte) ([]byte, error) { return append([]byte(nil), plaintext...), nil }
func (Noop) Decrypt(ciphertext []byte) ([]byte, error) {
	return append([]byte(nil), ciphertext...), nil
}
