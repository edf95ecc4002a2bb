package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyKey is returned when a cipher is built without a passphrase.
var ErrEmptyKey = errors.New("encryption key is empty")

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ValidatePassword validates a password against its hash
func ValidatePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Cipher seals secrets at rest with AES-256-GCM.
// The key is the SHA-256 of the configured passphrase.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a passphrase.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyKey
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext as hex.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to create nonce: %w", err)
	}
	return hex.EncodeToString(c.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal. Callers own the returned buffer and should zero it.
func (c *Cipher) Open(sealedHex string) ([]byte, error) {
	raw, err := hex.DecodeString(sealedHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RandomString draws n characters uniformly from alphabet.
func RandomString(alphabet string, n int) (string, error) {
	if alphabet == "" || n <= 0 {
		return "", errors.New("alphabet and length must be non-empty")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random string: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
