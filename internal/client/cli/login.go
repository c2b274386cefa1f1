package cli

import (
	"context"
	"fmt"
)

// Login signs the server's nonce with the unlocked wallet.
func (a *App) Login(ctx context.Context, args []string) error {
	if a.signer == nil {
		return errLocked
	}
	s, err := a.service.Login(ctx, a.signer)
	if err != nil {
		return fmt.Errorf("login unsuccessful: %w", err)
	}
	a.session = s
	fmt.Fprintf(a.out, "Login successful, session valid until %s\n", s.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}
