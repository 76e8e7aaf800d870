package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

const testKEK = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testKEK)
	require.NoError(t, err)
	return svc
}

func TestNewService_KeyValidation(t *testing.T) {
	_, err := NewService("not-hex")
	assert.Error(t, err)

	_, err = NewService("abcd")
	assert.Error(t, err)

	_, err = NewService(testKEK)
	assert.NoError(t, err)

	// Leading/trailing whitespace from env files is tolerated.
	_, err = NewService("  " + testKEK + "\n")
	assert.NoError(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	meta := Metadata{PiiType: "EMAIL", PositionBegin: 0, PositionEnd: 7}

	token, err := svc.Encrypt("a@b.com", meta)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "ENC:v1:"))
	assert.True(t, IsEncrypted(token))

	plaintext, err := svc.Decrypt(token, meta)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", plaintext)
}

func TestDecrypt_MetadataMismatchFails(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.Encrypt("a@b.com", Metadata{PiiType: "EMAIL", PositionBegin: 0, PositionEnd: 7})
	require.NoError(t, err)

	tests := []struct {
		name string
		meta Metadata
	}{
		{"changed end position", Metadata{PiiType: "EMAIL", PositionBegin: 0, PositionEnd: 8}},
		{"changed begin position", Metadata{PiiType: "EMAIL", PositionBegin: 1, PositionEnd: 7}},
		{"changed type", Metadata{PiiType: "PHONE", PositionBegin: 0, PositionEnd: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Decrypt(token, tt.meta)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeCrypto))
		})
	}
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	svc := newTestService(t)
	meta := Metadata{PiiType: "SSN", PositionBegin: 10, PositionEnd: 21}
	token, err := svc.Encrypt("123-45-6789", meta)
	require.NoError(t, err)

	parts := strings.Split(strings.TrimPrefix(token, "ENC:v1:"), ":")
	require.Len(t, parts, 3)
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	ct[0] ^= 0xFF
	tampered := "ENC:v1:" + parts[0] + ":" + parts[1] + ":" + base64.StdEncoding.EncodeToString(ct)

	_, err = svc.Decrypt(tampered, meta)
	assert.Error(t, err)
}

func TestDecrypt_MalformedTokens(t *testing.T) {
	svc := newTestService(t)
	meta := Metadata{PiiType: "EMAIL"}

	for _, token := range []string{
		"",
		"plaintext",
		"ENC:v1:",
		"ENC:v1:abc",
		"ENC:v1:a:b",
		"ENC:v1:!!!:" + base64.StdEncoding.EncodeToString(make([]byte, 12)) + ":AAAA",
		"ENC:v2:x:y:z",
	} {
		_, err := svc.Decrypt(token, meta)
		assert.Error(t, err, "token %q", token)
	}
}

func TestEncrypt_UniqueTokensPerCall(t *testing.T) {
	svc := newTestService(t)
	meta := Metadata{PiiType: "EMAIL", PositionBegin: 0, PositionEnd: 7}

	t1, err := svc.Encrypt("a@b.com", meta)
	require.NoError(t, err)
	t2, err := svc.Encrypt("a@b.com", meta)
	require.NoError(t, err)

	// Fresh salt and IV each call; identical plaintext never repeats a token.
	assert.NotEqual(t, t1, t2)
}

func TestEncrypt_EmptyPlaintext(t *testing.T) {
	svc := newTestService(t)
	meta := Metadata{PiiType: "EMAIL"}

	token, err := svc.Encrypt("", meta)
	require.NoError(t, err)

	plaintext, err := svc.Decrypt(token, meta)
	require.NoError(t, err)
	assert.Equal(t, "", plaintext)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted("ENC:v1:a:b:c"))
	assert.False(t, IsEncrypted("ENC:v2:a:b:c"))
	assert.False(t, IsEncrypted("a@b.com"))
	assert.False(t, IsEncrypted(""))
}
