package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const keyFileName = "key.bin"

// DefaultDir returns the per-user directory holding the key file
func DefaultDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to user's home directory
		homeDir, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine home directory: %w", herr)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "BillingApp"), nil
}

// KeyStore seals secrets with an AES-256 key kept in a file under dir
type KeyStore struct {
	dir string

	mu  sync.Mutex
	key []byte
}

// NewKeyStore returns a key store rooted at dir. The key is created on first use.
func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{dir: dir}
}

// KeyPath returns the path to the encryption key file
func (k *KeyStore) KeyPath() string {
	return filepath.Join(k.dir, keyFileName)
}

// Key returns the key, generating it if it doesn't exist
func (k *KeyStore) Key() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return k.key, nil
	}

	keyPath := k.KeyPath()
	if data, err := os.ReadFile(keyPath); err == nil {
		if len(data) != 32 {
			return nil, fmt.Errorf("invalid key size: expected 32 bytes, got %d", len(data))
		}
		k.key = data
		return k.key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read key file: %w", err)
	}

	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create security directory: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("could not generate random key: %w", err)
	}

	// Only readable by owner
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("could not write key file: %w", err)
	}
	k.key = key
	return k.key, nil
}

func (k *KeyStore) gcm() (cipher.AEAD, error) {
	key, err := k.Key()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("could not create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("could not create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-GCM and returns it base64 encoded
func (k *KeyStore) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := k.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("could not generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a value produced by Encrypt
func (k *KeyStore) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("could not decode ciphertext: %w", err)
	}

	gcm, err := k.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, cipherData := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", fmt.Errorf("could not decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptIfNeeded encrypts a value only if it's not already encrypted
func (k *KeyStore) EncryptIfNeeded(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if _, err := k.Decrypt(value); err == nil {
		return value, nil
	}
	return k.Encrypt(value)
}
