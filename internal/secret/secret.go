// Package secret handles ENC[v1:aesgcm:...] values so API keys can sit in
// config files and .env without being stored in the clear.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// MasterKeyEnv names the variable holding the AES-256 key, raw (32 bytes) or base64.
const MasterKeyEnv = "RELAY_MASTER_KEY"

var encValuePattern = regexp.MustCompile(`^ENC\[v1:aesgcm:([A-Za-z0-9+/=]+)\]$`)

func IsEncrypted(raw string) bool {
	return encValuePattern.MatchString(strings.TrimSpace(raw))
}

// Resolve returns raw unchanged unless it is an ENC[...] value, which is
// decrypted with the master key from the environment.
func Resolve(raw string) (string, error) {
	if !IsEncrypted(raw) {
		return raw, nil
	}
	key, err := MasterKeyFromEnv()
	if err != nil {
		return "", err
	}
	return Decrypt(raw, key)
}

func Decrypt(raw string, key []byte) (string, error) {
	m := encValuePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", errors.New("not an ENC[v1:aesgcm:...] value")
	}
	data, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", fmt.Errorf("invalid base64 ciphertext: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt failed: %w", err)
	}
	return string(pt), nil
}

func Encrypt(plain string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return "ENC[v1:aesgcm:" + base64.StdEncoding.EncodeToString(buf) + "]", nil
}

func MasterKeyFromEnv() ([]byte, error) {
	return ParseMasterKey(os.Getenv(MasterKeyEnv))
}

func ParseMasterKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New(MasterKeyEnv + " is required to decrypt ENC[...] values")
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return nil, errors.New(MasterKeyEnv + " must be 32 bytes or base64-encoded 32 bytes")
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
