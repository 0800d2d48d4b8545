package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrEmptyMasterKey = errors.New("master key must not be empty")
	ErrMalformedBlob  = errors.New("malformed encrypted blob")
	ErrDecryptFailed  = errors.New("decryption failed: ciphertext tampered or wrong key")
)

const (
	keySize = 32 // AES-256
	tagSize = 16 // GCM authentication tag

	// hkdfInfo binds derived keys to this purpose so the same master
	// secret can be reused for other derivations without key collision.
	hkdfInfo = "healthsync/provider-credentials/v1"
)

// Vault encrypts and decrypts provider credentials at rest using
// AES-256-GCM. The vault is stateless; every encrypted blob carries its
// own nonce and authentication tag.
type Vault struct {
	aead cipher.AEAD
}

// New derives an AES-256 key from the master secret via HKDF-SHA256 and
// returns a ready vault.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, ErrEmptyMasterKey
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns a storage string of the form
// v1$<base64-iv>$<base64-ciphertext>$<base64-tag>
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)

	// Seal appends the tag to the ciphertext; split them so the stored
	// form matches the {cipherText, iv, tag} contract.
	cipherText := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return fmt.Sprintf("v1$%s$%s$%s",
		base64.RawStdEncoding.EncodeToString(iv),
		base64.RawStdEncoding.EncodeToString(cipherText),
		base64.RawStdEncoding.EncodeToString(tag),
	), nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering with the
// ciphertext, nonce, or tag fails with ErrDecryptFailed rather than
// returning corrupted data.
func (v *Vault) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != "v1" {
		return "", ErrMalformedBlob
	}

	iv, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedBlob
	}
	cipherText, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedBlob
	}
	tag, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", ErrMalformedBlob
	}

	if len(iv) != v.aead.NonceSize() || len(tag) != tagSize {
		return "", ErrMalformedBlob
	}

	plaintext, err := v.aead.Open(nil, iv, append(cipherText, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}
