package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Параметры PBKDF2 для деривации ключа из passphrase оператора.
// 210k итераций - рекомендация OWASP для PBKDF2-HMAC-SHA256 (2023)
const (
	kdfIterations = 210_000
	kdfSaltSize   = 16
	kdfKeySize    = 32
)

var ErrInvalidSalt = errors.New("invalid salt")

// DeriveKey выводит 32-байтный ключ AES-256 из passphrase и соли.
// Позволяет держать в окружении человекочитаемую passphrase
// вместо сырого 32-байтного ключа
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if len(salt) < kdfSaltSize {
		return nil, ErrInvalidSalt
	}
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, kdfKeySize, sha256.New), nil
}

// GenerateSalt генерирует случайную соль для DeriveKey
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, kdfSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKeyBase64 выводит ключ из passphrase и base64-encoded соли (формат .env)
func DeriveKeyBase64(passphrase, saltBase64 string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(saltBase64)
	if err != nil {
		return nil, ErrInvalidSalt
	}
	return DeriveKey(passphrase, salt)
}
