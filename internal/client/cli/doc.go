// Package cli provides the interactive MedVault command-line client.
//
// It wires configuration, the local wallet, the receipts database and the
// HTTP API client into a REPL. Typical flow: create or unlock a wallet, log
// in with a signed nonce, upload records (encrypted on this machine by
// default), fetch records you were granted, and browse a patient's audit
// trail.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
