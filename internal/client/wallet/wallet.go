// Package wallet keeps the CLI's signing key on disk, encrypted with a key
// stretched from the user's passphrase.
package wallet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
)

const saltSize = 16

var (
	ErrExists          = errors.New("wallet file already exists")
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted wallet")
)

// secret is the encrypted part of the wallet file.
type secret struct {
	PrivateKey string `json:"privateKey"`
}

// file is the on-disk layout. Address is kept in the clear so it can be
// shown before unlocking.
type file struct {
	Address string `json:"address"`
	Salt    string `json:"salt"`
	IV      string `json:"iv"`
	Key     string `json:"key"`
}

// Create generates a new key and writes it to path. An existing file is
// never overwritten.
func Create(path string, passphrase []byte) (*walletsig.Signer, error) {
	signer, err := walletsig.GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := save(path, signer, passphrase); err != nil {
		return nil, err
	}
	return signer, nil
}

// Import stores an existing hex private key at path.
func Import(path, privateKey string, passphrase []byte) (*walletsig.Signer, error) {
	signer, err := walletsig.SignerFromHex(privateKey)
	if err != nil {
		return nil, err
	}
	if err := save(path, signer, passphrase); err != nil {
		return nil, err
	}
	return signer, nil
}

func save(path string, signer *walletsig.Signer, passphrase []byte) error {
	salt := common.GenerateRandByteArray(saltSize)
	key := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(key)

	ct, iv, err := cryptox.EncryptEntry(secret{PrivateKey: signer.PrivateKeyHex()}, key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(file{
		Address: signer.Address(),
		Salt:    hex.EncodeToString(salt),
		IV:      hex.EncodeToString(iv),
		Key:     hex.EncodeToString(ct),
	}, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrExists
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Address reads the public address from path without unlocking it.
func Address(path string) (string, error) {
	w, err := read(path)
	if err != nil {
		return "", err
	}
	return w.Address, nil
}

// Load decrypts the key at path.
func Load(path string, passphrase []byte) (*walletsig.Signer, error) {
	w, err := read(path)
	if err != nil {
		return nil, err
	}

	salt, err1 := hex.DecodeString(w.Salt)
	iv, err2 := hex.DecodeString(w.IV)
	ct, err3 := hex.DecodeString(w.Key)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("wallet %s: %w", path, err)
	}

	key := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(key)

	var sec secret
	if err := cryptox.DecryptEntry(ct, iv, key, &sec); err != nil {
		return nil, ErrWrongPassphrase
	}

	signer, err := walletsig.SignerFromHex(sec.PrivateKey)
	if err != nil {
		return nil, err
	}
	if !common.SameAddress(signer.Address(), w.Address) {
		return nil, ErrWrongPassphrase
	}
	return signer, nil
}

func read(path string) (file, error) {
	var w file
	data, err := os.ReadFile(path)
	if err != nil {
		return w, err
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("wallet %s: %w", path, err)
	}
	return w, nil
}

// RecordKey derives the key the CLI uses to encrypt uploads before they
// leave the machine. It is bound to the signing key, so only the same wallet
// can decrypt.
func RecordKey(signer *walletsig.Signer) ([]byte, error) {
	raw, err := hex.DecodeString(signer.PrivateKeyHex())
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(raw)
	return walletsig.Keccak256([]byte("medvault:records:"), raw), nil
}
