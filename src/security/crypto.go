package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen          = 32
	pbkdf2Iters     = 4096
	pbkdf2Salt      = "dcarunner-exchange-credentials"
	errShortMessage = "ciphertext shorter than nonce"
)

// keyFromConfig resolves the encryption key: a base64 value that decodes to
// exactly 32 bytes is used directly, anything else is treated as a passphrase
// and stretched with PBKDF2-SHA256.
func keyFromConfig() ([]byte, error) {
	raw := GetConfig().ExchangeCRKey
	if raw == "" {
		return nil, errors.New("EXCHANGE_CREDENTIALS_KEY not set")
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == keyLen {
		return decoded, nil
	}
	return pbkdf2.Key([]byte(raw), []byte(pbkdf2Salt), pbkdf2Iters, keyLen, sha256.New), nil
}

// EncryptString seals plaintext with AES-256-GCM and returns
// base64(nonce || ciphertext).
func EncryptString(plaintext string) (string, error) {
	key, err := keyFromConfig()
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string) (string, error) {
	key, err := keyFromConfig()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New(errShortMessage)
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// GenerateKey returns a fresh random 32-byte key, base64 encoded, suitable for
// EXCHANGE_CREDENTIALS_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
