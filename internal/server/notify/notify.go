// Package notify publishes patient notifications for ledger activity.
// Delivery to end users is left to whoever subscribes to the channel.
package notify

import (
	"context"
	"time"

	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"github.com/google/uuid"
)

// Notification types.
const (
	TypeRecordAdded      = "RECORD_ADDED"
	TypeAccessGranted    = "ACCESS_GRANTED"
	TypeEmergencyRequest = "EMERGENCY_REQUEST"
)

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Patient   string    `json:"patient"`
	Subject   string    `json:"subject,omitempty"`
	RecordID  string    `json:"recordId,omitempty"`
	CID       string    `json:"ipfsCID,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
	Urgent    bool      `json:"urgent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher stores a notification and announces it to subscribers.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Notifier fills in ids and timestamps and swallows publish failures.
type Notifier struct {
	pub    Publisher
	clock  timex.Clock
	logger logging.Logger
}

func NewNotifier(pub Publisher, logger logging.Logger) *Notifier {
	return &Notifier{pub: pub, logger: logger}
}

func (n *Notifier) WithClock(c timex.Clock) *Notifier {
	n.clock = c
	return n
}

// Send publishes note. Failures are logged; notifications are best effort.
func (n *Notifier) Send(ctx context.Context, note Notification) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = n.clock.Now().UTC()
	}
	if err := n.pub.Publish(ctx, note); err != nil {
		n.logger.Warn(ctx, "failed to send notification", "type", note.Type, "patient", note.Patient, "error", err)
		return
	}
	n.logger.Debug(ctx, "notification sent", "type", note.Type, "patient", note.Patient, "id", note.ID)
}
