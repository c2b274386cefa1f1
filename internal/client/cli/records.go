package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dmitrijs2005/medvault/internal/client/receipts"
	"github.com/dmitrijs2005/medvault/internal/client/wallet"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/filex"
)

const downloadsDir = "downloads"

// seal encrypts data with the wallet record key as iv||ciphertext.
func (a *App) seal(data []byte) ([]byte, error) {
	key, err := wallet.RecordKey(a.signer)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	ct, iv, err := cryptox.Encrypt(data, key)
	if err != nil {
		return nil, err
	}
	return append(iv, ct...), nil
}

func (a *App) open(sealed []byte) ([]byte, error) {
	if len(sealed) <= cryptox.IVSize {
		return nil, common.ErrCorruptPayload
	}
	key, err := wallet.RecordKey(a.signer)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	return cryptox.Decrypt(sealed[cryptox.IVSize:], key, sealed[:cryptox.IVSize])
}

// Upload sends a file as the wallet's own record. By default the file is
// encrypted locally and the server stores it as given; --server-encrypt
// leaves encryption to the server.
func (a *App) Upload(ctx context.Context, args []string) error {
	if a.signer == nil {
		return errLocked
	}
	if len(args) == 0 {
		return errors.New("usage: upload <file> [--server-encrypt]")
	}
	path := args[0]
	serverEncrypt := len(args) > 1 && args[1] == "--server-encrypt"

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	payload := data
	if !serverEncrypt {
		if payload, err = a.seal(data); err != nil {
			return err
		}
	}

	name := filepath.Base(path)
	up, err := a.service.Upload(ctx, a.signer, name, payload, !serverEncrypt)
	if err != nil {
		return err
	}

	rc := receipts.Receipt{
		CID:        up.CID,
		FileName:   name,
		Patient:    a.signer.Address(),
		IV:         up.IV,
		Encrypted:  true,
		Size:       len(data),
		UploadedAt: up.Timestamp,
	}
	if err := a.receipts.Save(ctx, rc); err != nil {
		fmt.Fprintf(a.out, "warning: receipt not saved: %v\n", err)
	}

	fmt.Fprintf(a.out, "Uploaded %s as %s\n", name, up.CID)
	return nil
}

// Fetch downloads a record into a file; "-" as the output picks a free name
// in ./downloads from the record's file name. Records this wallet encrypted
// locally are decrypted; anything else is written as stored.
func (a *App) Fetch(ctx context.Context, args []string) error {
	if a.signer == nil {
		return errLocked
	}
	if len(args) < 2 {
		return errors.New("usage: fetch <cid> <out> [patient]")
	}
	cid, out := args[0], args[1]
	patient := a.signer.Address()
	if len(args) > 2 {
		patient = args[2]
	}

	rec, err := a.service.Fetch(ctx, a.signer, patient, cid)
	if err != nil {
		return err
	}

	data := rec.Data
	decrypted := false
	if common.SameAddress(patient, a.signer.Address()) {
		if plain, err := a.open(rec.Data); err == nil {
			data, decrypted = plain, true
		}
	}

	if out == "-" {
		if out, err = downloadPath(rec.Metadata.FileName, cid); err != nil {
			return err
		}
	}

	if err := os.WriteFile(out, data, 0o600); err != nil {
		return err
	}
	if decrypted {
		fmt.Fprintf(a.out, "Saved %s (%d bytes, decrypted)\n", out, len(data))
	} else {
		fmt.Fprintf(a.out, "Saved %s (%d bytes, as stored)\n", out, len(data))
	}
	return nil
}

func downloadPath(fileName, cid string) (string, error) {
	dir, err := filex.EnsureSubDir(downloadsDir)
	if err != nil {
		return "", err
	}
	if fileName == "" {
		fileName = cid
	}
	return filex.FreePath(dir, fileName)
}

// Receipts lists local upload receipts for the wallet, or all of them when
// locked.
func (a *App) Receipts(ctx context.Context, args []string) error {
	patient := ""
	if a.signer != nil {
		patient = a.signer.Address()
	}
	list, err := a.receipts.List(ctx, patient)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No receipts")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UPLOADED\tFILE\tSIZE\tCID")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.UploadedAt.Local().Format("2006-01-02 15:04"), r.FileName, r.Size, r.CID)
	}
	return tw.Flush()
}
