package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// encPrefix marks values written by a Codec
const encPrefix = "enc:v1:"

var (
	hkdfSalt = []byte("groundwork/store")
	hkdfInfo = []byte("field-encryption")
)

// ErrCiphertext is returned for values that carry the prefix but do not decrypt
var ErrCiphertext = errors.New("invalid ciphertext")

// Codec encrypts text columns on write and decrypts them on read. A nil
// Codec passes values through unchanged.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives an AES-256-GCM key from secret. An empty secret returns
// a nil Codec.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt returns the sealed, base64-encoded form of plain
func (c *Codec) Encrypt(plain string) (string, error) {
	if c == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the prefix were stored in the
// clear and are returned as is.
func (c *Codec) Decrypt(value string) (string, error) {
	if c == nil || !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", ErrCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(plain), nil
}
