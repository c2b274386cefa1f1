// Package cryptox wraps the symmetric primitives used for record payloads
// and for wallet keys kept on disk by the CLI: AES-GCM and argon2id.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length used for records.
const KeySize = 32

// IVSize is the GCM nonce length.
const IVSize = 12

// DeriveMasterKey stretches a passphrase into a KeySize key with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// ParseRecordKey decodes the configured record key. A 64-character hex
// string is used as-is; anything else is treated as a passphrase and
// stretched with salt.
func ParseRecordKey(material string, salt []byte) ([]byte, error) {
	if material == "" {
		return nil, fmt.Errorf("record key: %w", common.ErrInvalidRequest)
	}
	if len(material) == 2*KeySize {
		if key, err := hex.DecodeString(material); err == nil {
			return key, nil
		}
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("record key: passphrase material needs a salt")
	}
	return DeriveMasterKey([]byte(material), salt), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh random IV.
func Encrypt(plaintext, key []byte) (ciphertext, iv []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt opens ciphertext. Every failure, whether a wrong key, a wrong IV
// or tampered bytes, is reported as common.ErrCorruptPayload.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, common.ErrCorruptPayload
	}
	if len(iv) != aesgcm.NonceSize() {
		return nil, common.ErrCorruptPayload
	}
	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, common.ErrCorruptPayload
	}
	return plaintext, nil
}

// EncryptEntry serializes entry to JSON and encrypts it with Encrypt.
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)
	return Encrypt(plaintext, key)
}

// DecryptEntry reverses EncryptEntry into v.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := Decrypt(ciphertext, key, nonce)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)
	return json.Unmarshal(plaintext, v)
}
