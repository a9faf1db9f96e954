package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Ошибки хранилища токенов.
var (
	ErrBadKey        = errors.New("vault: ключ должен быть 32 байта в hex")
	ErrMalformedBlob = errors.New("vault: ожидается формат nonce:ciphertext:tag")
	ErrDecrypt       = errors.New("vault: не удалось расшифровать blob")
)

// Vault шифрует токены подключений перед записью в БД (AES-256-GCM).
// Открытый текст и ключ никогда не попадают в логи.
type Vault struct {
	aead cipher.AEAD
}

// NewVault создаёт хранилище из hex-ключа. Падает сразу при кривом ключе,
// чтобы ошибка конфигурации всплыла на старте, а не на первом запросе.
func NewVault(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(key) != 32 {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt шифрует plaintext и возвращает hex-триплет nonce:ciphertext:tag.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := crand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: генерация nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagAt := len(sealed) - v.aead.Overhead()
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed[:tagAt]) + ":" + hex.EncodeToString(sealed[tagAt:]), nil
}

// Decrypt разбирает hex-триплет и возвращает исходный текст.
// Любое отклонение от формата — ErrMalformedBlob, повреждение данных — ErrDecrypt.
func (v *Vault) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", ErrMalformedBlob
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != v.aead.NonceSize() {
		return "", ErrMalformedBlob
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedBlob
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != v.aead.Overhead() {
		return "", ErrMalformedBlob
	}
	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
