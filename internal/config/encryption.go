// Package config loads and persists the loader configuration at
// ~/.lakeloader/config.yaml, including at-rest encryption of warehouse
// credentials.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"lakeloader/pkg/models"
)

const (
	encryptedPrefix = "ENC["
	encryptedSuffix = "]"
	keyIterations   = 10000
)

// keySalt is fixed so the same machine derives the same key across runs
var keySalt = []byte("lakeloader-config-v1")

// getEncryptionKey derives an encryption key from environment or machine ID
func getEncryptionKey() []byte {
	if key := os.Getenv("LAKELOADER_ENCRYPTION_KEY"); key != "" {
		return pbkdf2.Key([]byte(key), keySalt, keyIterations, 32, sha256.New)
	}

	// Machine-specific fallback; a key management service should replace
	// this in shared deployments
	hostname, _ := os.Hostname()
	homeDir, _ := os.UserHomeDir()
	machineID := fmt.Sprintf("%s-%s-lakeloader", hostname, homeDir)
	return pbkdf2.Key([]byte(machineID), keySalt, keyIterations, 32, sha256.New)
}

// EncryptPassword encrypts a password using AES-256-GCM
func EncryptPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	if IsEncrypted(password) {
		return password, nil
	}

	block, err := aes.NewCipher(getEncryptionKey())
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(password), nil)
	encoded := base64.StdEncoding.EncodeToString(ciphertext)

	return fmt.Sprintf("%s%s%s", encryptedPrefix, encoded, encryptedSuffix), nil
}

// DecryptPassword decrypts a password encrypted with EncryptPassword
func DecryptPassword(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	if !IsEncrypted(encrypted) {
		return encrypted, nil
	}

	encoded := strings.TrimPrefix(encrypted, encryptedPrefix)
	encoded = strings.TrimSuffix(encoded, encryptedSuffix)

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted password: %w", err)
	}

	block, err := aes.NewCipher(getEncryptionKey())
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}

	return string(plaintext), nil
}

// IsEncrypted checks if a string is encrypted
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix) && strings.HasSuffix(value, encryptedSuffix)
}

// EncryptConfigPasswords encrypts all passwords in a config
func EncryptConfigPasswords(config *models.Config) error {
	if config.Warehouse.Password != "" && !IsEncrypted(config.Warehouse.Password) {
		encrypted, err := EncryptPassword(config.Warehouse.Password)
		if err != nil {
			return fmt.Errorf("failed to encrypt warehouse password: %w", err)
		}
		config.Warehouse.Password = encrypted
	}
	return nil
}

// DecryptConfigPasswords decrypts all passwords in a config
func DecryptConfigPasswords(config *models.Config) error {
	if IsEncrypted(config.Warehouse.Password) {
		decrypted, err := DecryptPassword(config.Warehouse.Password)
		if err != nil {
			return fmt.Errorf("failed to decrypt warehouse password: %w", err)
		}
		config.Warehouse.Password = decrypted
	}
	return nil
}
