package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/client/api"
	"github.com/dmitrijs2005/medvault/internal/client/wallet"
	"github.com/dmitrijs2005/medvault/internal/common"
)

var (
	errLocked       = errors.New("wallet is locked, run 'unlock' first")
	errNotLoggedIn  = errors.New("not logged in, run 'login' first")
	errPassMismatch = errors.New("passphrases do not match")
	errEmptyPass    = errors.New("passphrase must not be empty")
)

var walletAddress = wallet.Address

// newPassphrase asks for a passphrase twice.
func (a *App) newPassphrase() ([]byte, error) {
	p1, err := GetPassword(a.out, "New passphrase")
	if err != nil {
		return nil, err
	}
	p2, err := GetPassword(a.out, "Repeat passphrase")
	if err != nil {
		common.WipeByteArray(p1)
		return nil, err
	}
	defer common.WipeByteArray(p2)

	if len(p1) == 0 {
		return nil, errEmptyPass
	}
	if !bytes.Equal(p1, p2) {
		common.WipeByteArray(p1)
		return nil, errPassMismatch
	}
	return p1, nil
}

// Init creates a fresh wallet and unlocks it.
func (a *App) Init(ctx context.Context, args []string) error {
	pass, err := a.newPassphrase()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	signer, err := wallet.Create(a.config.WalletFile, pass)
	if err != nil {
		return err
	}
	a.signer = signer
	a.session.Token = ""
	fmt.Fprintf(a.out, "Created wallet %s in %s\n", signer.Address(), a.config.WalletFile)
	return nil
}

// Import stores an existing private key as the wallet.
func (a *App) Import(ctx context.Context, args []string) error {
	key, err := GetPassword(a.out, "Private key (hex)")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	pass, err := a.newPassphrase()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	signer, err := wallet.Import(a.config.WalletFile, string(key), pass)
	if err != nil {
		return err
	}
	a.signer = signer
	a.session.Token = ""
	fmt.Fprintf(a.out, "Imported wallet %s\n", signer.Address())
	return nil
}

func (a *App) Unlock(ctx context.Context, args []string) error {
	pass, err := GetPassword(a.out, "Passphrase")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	signer, err := wallet.Load(a.config.WalletFile, pass)
	if err != nil {
		return err
	}
	a.signer = signer
	fmt.Fprintf(a.out, "Unlocked %s\n", signer.Address())
	return nil
}

// Lock forgets the key and the session.
func (a *App) Lock(ctx context.Context, args []string) error {
	a.signer = nil
	a.session = api.Session{}
	fmt.Fprintln(a.out, "Locked")
	return nil
}
