package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// Секреты в .env (токен Telegram, ключ signer-сервиса) можно хранить
// зашифрованными: "enc:<base64>", ключ - ENCRYPTION_KEY (32 байта, AES-256-GCM).

// SecretPrefix маркер зашифрованного значения
const SecretPrefix = "enc:"

var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
	ErrMissingKey         = errors.New("encrypted secret given but ENCRYPTION_KEY is empty")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt шифрует plaintext, результат: base64(nonce || ciphertext || tag)
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
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

// Decrypt обратная операция к Encrypt
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	ns := gcm.NonceSize()
	if len(data) < ns {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted true если значение помечено префиксом enc:
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// RevealSecret возвращает значение как есть, либо расшифровывает "enc:..." ключом key
func RevealSecret(value, key string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if key == "" {
		return "", ErrMissingKey
	}
	return Decrypt(strings.TrimPrefix(value, SecretPrefix), []byte(key))
}

// SealSecret шифрует значение и добавляет префикс (утилита для подготовки .env)
func SealSecret(value, key string) (string, error) {
	ct, err := Encrypt(value, []byte(key))
	if err != nil {
		return "", err
	}
	return SecretPrefix + ct, nil
}
