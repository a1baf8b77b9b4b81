// Package secrets encrypts parameter values as ENC(<base64>) tokens with
// AES-256-GCM and expands or redacts them.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/BKyryl/iesi/pkg/schema"
)

// Mask replaces every ENC(...) token in redacted output.
const Mask = "*****"

var encToken = regexp.MustCompile(`ENC\(([A-Za-z0-9+/=]*)\)`)

// Config configures the key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type Config struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 iterations (default 100_000)
}

// Crypto encrypts and decrypts ENC(...) tokens.
type Crypto struct {
	aead cipher.AEAD
}

// New creates a Crypto with an AES-256-GCM key derived from cfg.
func New(cfg Config) (*Crypto, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Crypto{aead: aead}, nil
}

func deriveKey(cfg Config) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeCrypto,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeCrypto, "either master key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeCrypto, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Encrypt returns plaintext as an ENC(...) token. The nonce prefixes the
// sealed bytes.
func (c *Crypto) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return "ENC(" + base64.StdEncoding.EncodeToString(sealed) + ")", nil
}

// Decrypt expands every ENC(...) token in text. Text without tokens is
// returned unchanged.
func (c *Crypto) Decrypt(text string) (string, error) {
	var firstErr error
	out := encToken.ReplaceAllStringFunc(text, func(token string) string {
		if firstErr != nil {
			return token
		}
		plain, err := c.open(encToken.FindStringSubmatch(token)[1])
		if err != nil {
			firstErr = err
			return token
		}
		return plain
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (c *Crypto) open(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeCrypto, "decode token: %s", err.Error()).WithCause(err)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", schema.NewError(schema.ErrCodeCrypto, "ciphertext too short")
	}
	plain, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeCrypto, "decrypt failed: %s", err.Error())
	}
	return string(plain), nil
}

// Redact masks every ENC(...) token in text.
func (c *Crypto) Redact(text string) string {
	return Redact(text)
}

// Redact masks every ENC(...) token in text. It needs no key.
func Redact(text string) string {
	return encToken.ReplaceAllString(text, Mask)
}
