package connectors

import (
	"context"

	"catalogsync/internal"
)

// MailConnector lists recent messages of one mailbox label or folder.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}
