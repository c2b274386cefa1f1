package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/medvault/internal/client/api"
	"github.com/dmitrijs2005/medvault/internal/client/config"
	"github.com/dmitrijs2005/medvault/internal/client/receipts"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Service is the part of api.Client the CLI uses.
type Service interface {
	Login(ctx context.Context, s api.Signer) (api.Session, error)
	Upload(ctx context.Context, s api.Signer, fileName string, data []byte, preEncrypted bool) (api.Uploaded, error)
	Fetch(ctx context.Context, s api.Signer, patient, cid string) (api.Record, error)
	Audit(ctx context.Context, patient string, limit int) ([]api.AuditEntry, error)
	Ping(ctx context.Context) error
}

type App struct {
	config   *config.Config
	service  Service
	receipts receipts.Repository
	db       *sql.DB
	reader   *bufio.Reader
	out      io.Writer

	signer  *walletsig.Signer
	session api.Session

	mu   sync.Mutex
	mode Mode
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	db, err := receipts.Open(ctx, c.ReceiptsDB)
	if err != nil {
		return nil, fmt.Errorf("error initializing receipts database: %w", err)
	}

	return &App{
		config:   c,
		service:  api.NewClient(c.ServerURL, c.RequestTimeout),
		receipts: receipts.NewSQLiteRepository(db),
		db:       db,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}, nil
}

func (a *App) Run(ctx context.Context) {
	if a.db != nil {
		defer a.db.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(a.out, "Welcome to MedVault CLI (type 'help' for commands)")
	if addr, err := walletAddress(a.config.WalletFile); err == nil {
		fmt.Fprintf(a.out, "Wallet %s found, use 'unlock' to start\n", addr)
	} else {
		fmt.Fprintln(a.out, "No wallet yet, use 'init' or 'import'")
	}

	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.getStatus, a.reader)
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != mode {
		a.mode = mode
		fmt.Fprintf(a.out, "\nSwitched to %s mode\n", mode)
	}
}

func (a *App) getMode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) isUnlocked() bool {
	return a.signer != nil
}

func (a *App) getStatus() string {
	s := "locked"
	if a.signer != nil {
		s = a.signer.Address()
		if a.session.Token != "" {
			s += " logged-in"
		}
	}
	if m := a.getMode(); m != "" {
		s += " " + string(m)
	}
	return "(" + s + ")"
}

// StartOnlineStatusWatcher probes the server every interval and flips the
// displayed mode until ctx is done.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := a.service.Ping(pctx)
			cancel()

			if err != nil {
				a.setMode(ModeOffline)
			} else {
				a.setMode(ModeOnline)
			}

		case <-ctx.Done():
			return
		}
	}
}
