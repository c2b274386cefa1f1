package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies
// it; tests use a stub.
type execIface interface {
	isUnlocked() bool
	Init(ctx context.Context, args []string) error
	Import(ctx context.Context, args []string) error
	Unlock(ctx context.Context, args []string) error
	Lock(ctx context.Context, args []string) error
	Login(ctx context.Context, args []string) error
	Upload(ctx context.Context, args []string) error
	Fetch(ctx context.Context, args []string) error
	Audit(ctx context.Context, args []string) error
	Receipts(ctx context.Context, args []string) error
}

// runREPL reads commands line by line and dispatches them until EOF,
// "exit" or "quit". Command errors are printed and the loop continues.
//
//	Locked:
//	  init, import, unlock, audit <patient> [limit], exit
//	Unlocked:
//	  login, upload <file> [--server-encrypt], fetch <cid> <out> [patient],
//	  audit [patient] [limit], receipts, lock, exit
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("mv %s > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cerr error
		switch cmd {
		case "help":
			if a.isUnlocked() {
				printlnFn("Available commands: login, upload <file> [--server-encrypt], fetch <cid> <out> [patient], audit [patient] [limit], receipts, lock, exit")
			} else {
				printlnFn("Available commands: init, import, unlock, audit <patient> [limit], exit")
			}

		case "init":
			cerr = a.Init(ctx, args)

		case "import":
			cerr = a.Import(ctx, args)

		case "unlock":
			cerr = a.Unlock(ctx, args)

		case "lock":
			cerr = a.Lock(ctx, args)

		case "login":
			cerr = a.Login(ctx, args)

		case "upload":
			cerr = a.Upload(ctx, args)

		case "fetch":
			cerr = a.Fetch(ctx, args)

		case "audit":
			cerr = a.Audit(ctx, args)

		case "receipts":
			cerr = a.Receipts(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if cerr != nil {
			printlnFn("error:", cerr)
		}
	}
}
