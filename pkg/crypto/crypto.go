package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Cipher shields PII fields at rest. Keys are derived per user from a single
// master secret, so one user's opaque values never decrypt under another
// user's key.
type Cipher struct {
	master []byte
}

func NewCipher(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}
	return &Cipher{master: []byte(masterSecret)}, nil
}

func (c *Cipher) keyFor(userID string) ([]byte, error) {
	r := hkdf.New(sha256.New, c.master, nil, []byte("field:"+userID))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt returns an opaque base64 token for the plaintext.
func (c *Cipher) Encrypt(userID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := c.keyFor(userID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt returns the plaintext, or "" when the opaque value is malformed,
// truncated, or belongs to a different user. It never returns an error:
// callers treat an undecryptable field as absent.
func (c *Cipher) Decrypt(userID, opaque string) string {
	if opaque == "" {
		return ""
	}
	key, err := c.keyFor(userID)
	if err != nil {
		return ""
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil || len(raw) < aead.NonceSize() {
		return ""
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ""
	}
	return string(plain)
}
