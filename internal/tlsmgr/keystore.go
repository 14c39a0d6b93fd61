package tlsmgr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 600_000
	saltSize         = 32
	nonceSize        = 12
	keySize          = 32 // AES-256
)

// EncryptKey implements an on-disk payload format of
// salt(32) ∥ nonce(12) ∥ AES-256-GCM(ciphertext ∥ tag), with the AES key
// derived by PBKDF2-HMAC-SHA256 at 600,000 iterations over passphrase.
//
// Grounded on original_source's stated key-encryption scheme; PBKDF2 and
// AES-GCM come from golang.org/x/crypto/pbkdf2 and stdlib crypto/aes, a
// common pairing for envelope encryption with no third-party AEAD
// wrapper preferable over the stdlib primitive here.
func EncryptKey(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptKey reverses EncryptKey.
func DecryptKey(payload []byte, passphrase string) ([]byte, error) {
	if len(payload) < saltSize+nonceSize {
		return nil, fmt.Errorf("payload too short")
	}
	salt := payload[:saltSize]
	nonce := payload[saltSize : saltSize+nonceSize]
	ciphertext := payload[saltSize+nonceSize:]

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	return plaintext, nil
}

// WriteEncryptedKeyFile encrypts keyPEM and writes it to path with mode
// 0600: private-key files are never group- or world-readable.
func WriteEncryptedKeyFile(path string, keyPEM []byte, passphrase string) error {
	payload, err := EncryptKey(keyPEM, passphrase)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// ReadEncryptedKeyFile reads and decrypts a key file written by
// WriteEncryptedKeyFile.
func ReadEncryptedKeyFile(path string, passphrase string) ([]byte, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return DecryptKey(payload, passphrase)
}
