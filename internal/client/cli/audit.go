package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
)

// Audit prints a patient's audit trail, newest first. Without a patient the
// unlocked wallet's own trail is shown.
func (a *App) Audit(ctx context.Context, args []string) error {
	patient := ""
	limit := 0
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			limit = n
			continue
		}
		patient = arg
	}
	if patient == "" {
		if a.signer == nil {
			return errors.New("usage: audit <patient> [limit]")
		}
		patient = a.signer.Address()
	}

	entries, err := a.service.Audit(ctx, patient, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No audit entries")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tOUTCOME\tACCESSOR\tRECORD")
	for _, e := range entries {
		record := e.CID
		if record == "" {
			record = e.RecordID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.Outcome, e.Accessor, record)
	}
	return tw.Flush()
}
