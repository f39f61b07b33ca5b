package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	require.Len(t, salt, 16)

	key1 := DeriveKey("master-secret", salt)
	key2 := DeriveKey("master-secret", salt)
	assert.Len(t, key1, 32)
	assert.Equal(t, key1, key2)

	other := DeriveKey("other-secret", salt)
	assert.NotEqual(t, key1, other)
}

func TestDeriveKey_SaltChangesKey(t *testing.T) {
	salt1, err := NewSalt()
	require.NoError(t, err)
	salt2, err := NewSalt()
	require.NoError(t, err)
	require.False(t, bytes.Equal(salt1, salt2))

	assert.NotEqual(t, DeriveKey("s", salt1), DeriveKey("s", salt2))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := DeriveKey("master-secret", []byte("0123456789abcdef"))
	plaintext := []byte("a-credential-value")

	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), string(plaintext))

	decrypted, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_NonceMakesCiphertextUnique(t *testing.T) {
	key := DeriveKey("master-secret", []byte("0123456789abcdef"))

	c1, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	c2, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key := DeriveKey("master-secret", []byte("0123456789abcdef"))
	wrong := DeriveKey("wrong-secret", []byte("0123456789abcdef"))

	ciphertext, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, wrong)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	key := DeriveKey("master-secret", []byte("0123456789abcdef"))

	ciphertext, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = Decrypt(ciphertext, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_TooShort(t *testing.T) {
	key := DeriveKey("master-secret", []byte("0123456789abcdef"))

	_, err := Decrypt([]byte("short"), key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptDecrypt_KeyTooShort(t *testing.T) {
	_, err := Encrypt([]byte("x"), []byte("short-key"))
	assert.ErrorIs(t, err, ErrKeyTooShort)

	_, err = Decrypt([]byte("x"), []byte("short-key"))
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestBase64RoundTrip(t *testing.T) {
	key := DeriveKey("master-secret", []byte("0123456789abcdef"))

	encoded, err := EncryptToBase64([]byte("value"), key)
	require.NoError(t, err)

	decrypted, err := DecryptFromBase64(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), decrypted)

	_, err = DecryptFromBase64("not!base64", key)
	assert.Error(t, err)
}

func TestRandomPassword(t *testing.T) {
	p1, err := RandomPassword(16)
	require.NoError(t, err)
	assert.Len(t, p1, 32)
	assert.Regexp(t, `^[0-9a-f]+$`, p1)

	p2, err := RandomPassword(16)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}
