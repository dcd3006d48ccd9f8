package connectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"catalogsync/internal"
	"catalogsync/internal/storage"
)

type stubConnector struct {
	messages []internal.FetchedMailMessage
	calls    int
}

func (s *stubConnector) FetchInbox(_ context.Context, _ string, max int) ([]internal.FetchedMailMessage, error) {
	s.calls++
	if len(s.messages) > max {
		return s.messages[:max], nil
	}
	return s.messages, nil
}

func TestFetchAndStoreKeepsStatusOfKnownMessages(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer db.Close()

	conn := &stubConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<a@x>", Subject: "Lista marzo", Raw: []byte("raw a")},
		{Provider: "imap", MessageID: "<b@x>", Subject: "Lista abril", Raw: []byte("raw b")},
	}}
	svc := NewFetchService(db, filepath.Join(dir, "raw"), conn)

	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, FetchResult{Fetched: 2, Stored: 2, New: 2}, res)

	row, err := db.GetEmailByProviderMessageID("imap", "<a@x>")
	require.NoError(t, err)
	require.NotNil(t, row)
	raw, err := os.ReadFile(row.RawRef)
	require.NoError(t, err)
	require.Equal(t, "raw a", string(raw))

	require.NoError(t, db.UpdateEmailStatus(row.ID, StatusProcessed))

	res, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, FetchResult{Fetched: 2, Stored: 2, New: 1}, res)

	row, err = db.GetEmailByProviderMessageID("imap", "<a@x>")
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, row.Status)
}
