// Package walletsig recovers the address behind an Ethereum-style
// personal-message signature (EIP-191, 65-byte r||s||v) and produces such
// signatures for the CLI and tests.
package walletsig

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/dmitrijs2005/medvault/internal/common"
)

const signatureLen = 65

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// HashMessage is the EIP-191 digest a wallet signs for personal_sign.
func HashMessage(message string) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message))
	return Keccak256([]byte(prefix), []byte(message))
}

// PubKeyToAddress derives the lower-case 0x address of pub.
func PubKeyToAddress(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	return "0x" + hex.EncodeToString(Keccak256(raw[1:])[12:])
}

// RecoverAddress returns the lower-case address that produced signature
// over message. Malformed signatures yield common.ErrInvalidSignature.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := decodeHex(signature)
	if err != nil || len(sig) != signatureLen {
		return "", common.ErrInvalidSignature
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", common.ErrInvalidSignature
	}

	// decred expects the recovery byte first: 27 + recid for uncompressed keys.
	compact := make([]byte, signatureLen)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, HashMessage(message))
	if err != nil {
		return "", common.ErrInvalidSignature
	}
	return PubKeyToAddress(pub), nil
}

// Verify reports whether signature over message recovers to address.
func Verify(address, message, signature string) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if !common.SameAddress(recovered, address) {
		return common.ErrInvalidSignature
	}
	return nil
}

// Signer holds a secp256k1 private key and signs personal messages.
type Signer struct {
	key *secp256k1.PrivateKey
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{key: key}, nil
}

// SignerFromHex loads a 32-byte hex private key (0x prefix optional).
func SignerFromHex(privateKey string) (*Signer, error) {
	b, err := decodeHex(privateKey)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 hex-encoded bytes")
	}
	return &Signer{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// Address is the lower-case address of the signer.
func (s *Signer) Address() string {
	return PubKeyToAddress(s.key.PubKey())
}

// PrivateKeyHex exports the key for encrypted storage.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.key.Serialize())
}

// SignMessage returns the 0x-hex r||s||v signature over message with v in {27, 28}.
func (s *Signer) SignMessage(message string) string {
	compact := ecdsa.SignCompact(s.key, HashMessage(message), false)
	sig := make([]byte, signatureLen)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(s)
}
