package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceivedAt(t *testing.T) {
	require.Equal(t, "2026-03-02T12:30:00Z", receivedAt("Mon, 02 Mar 2026 09:30:00 -0300", 0))
	require.Equal(t, "2026-03-02T12:30:00Z", receivedAt("not a date", 1772454600000))
}

func TestDecodeBase64URL(t *testing.T) {
	raw := []byte("Subject: Lista\r\n\r\nhola?>")
	got, err := decodeBase64URL(base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, got)

	got, err = decodeBase64URL(base64.URLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, got)

	_, err = decodeBase64URL("***")
	require.Error(t, err)
}
