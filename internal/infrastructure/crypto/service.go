// Package crypto provides authenticated encryption for sensitive PII fields.
// Each record gets its own data key derived from the master key via
// HKDF-SHA256 with a random salt, then is sealed with AES-GCM-256. The
// record metadata is bound to the ciphertext as additional authenticated
// data, so moving a token between records fails decryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

const (
	tokenPrefix = "ENC:v1:"
	hkdfInfo    = "wikiguard-pii-field-encryption-v1"

	kekSize  = 32
	saltSize = 32
	ivSize   = 12
	dekSize  = 32
)

// Metadata is bound to a ciphertext as AAD. Any change to it after
// encryption makes decryption fail.
type Metadata struct {
	PiiType       string
	PositionBegin int
	PositionEnd   int
}

func (m Metadata) aad() []byte {
	return []byte(fmt.Sprintf("%s|%d|%d", m.PiiType, m.PositionBegin, m.PositionEnd))
}

// Service encrypts and decrypts sensitive fields. Safe for concurrent use;
// the master key is loaded once and never leaves the struct.
type Service struct {
	kek []byte
}

// NewService loads the 256-bit master key from its hex encoding.
func NewService(kekHex string) (*Service, error) {
	kek, err := hex.DecodeString(strings.TrimSpace(kekHex))
	if err != nil {
		return nil, errors.NewConfigError("master key is not valid hex")
	}
	if len(kek) != kekSize {
		return nil, errors.NewConfigError(
			fmt.Sprintf("master key must be %d bytes, got %d", kekSize, len(kek)))
	}
	return &Service{kek: kek}, nil
}

// Encrypt seals plaintext under a per-record derived key and returns the
// ENC:v1 token.
func (s *Service) Encrypt(plaintext string, meta Metadata) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.NewEncryptionError("failed to generate salt").WithCause(err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", errors.NewEncryptionError("failed to generate IV").WithCause(err)
	}

	dek, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}
	defer zero(dek)

	aead, err := newGCM(dek)
	if err != nil {
		return "", err
	}

	ciphertext := aead.Seal(nil, iv, []byte(plaintext), meta.aad())

	b64 := base64.StdEncoding
	return tokenPrefix +
		b64.EncodeToString(salt) + ":" +
		b64.EncodeToString(iv) + ":" +
		b64.EncodeToString(ciphertext), nil
}

// Decrypt opens an ENC:v1 token. The same metadata used at encryption time
// must be supplied; any mismatch or tampering fails with EncryptionError.
func (s *Service) Decrypt(token string, meta Metadata) (string, error) {
	if !IsEncrypted(token) {
		return "", errors.NewEncryptionError("token does not carry the ENC:v1 prefix")
	}

	parts := strings.Split(strings.TrimPrefix(token, tokenPrefix), ":")
	if len(parts) != 3 {
		return "", errors.NewEncryptionError("malformed token")
	}

	b64 := base64.StdEncoding
	salt, err := b64.DecodeString(parts[0])
	if err != nil || len(salt) != saltSize {
		return "", errors.NewEncryptionError("malformed salt")
	}
	iv, err := b64.DecodeString(parts[1])
	if err != nil || len(iv) != ivSize {
		return "", errors.NewEncryptionError("malformed IV")
	}
	ciphertext, err := b64.DecodeString(parts[2])
	if err != nil {
		return "", errors.NewEncryptionError("malformed ciphertext")
	}

	dek, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}
	defer zero(dek)

	aead, err := newGCM(dek)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, meta.aad())
	if err != nil {
		return "", errors.NewEncryptionError("integrity check failed")
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether the value carries the stable token prefix.
func IsEncrypted(token string) bool {
	return strings.HasPrefix(token, tokenPrefix)
}

func (s *Service) deriveKey(salt []byte) ([]byte, error) {
	dek := make([]byte, dekSize)
	r := hkdf.New(sha256.New, s.kek, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, dek); err != nil {
		zero(dek)
		return nil, errors.NewEncryptionError("key derivation failed").WithCause(err)
	}
	return dek, nil
}

func newGCM(dek []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, errors.NewEncryptionError("cipher init failed").WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewEncryptionError("GCM init failed").WithCause(err)
	}
	return aead, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
