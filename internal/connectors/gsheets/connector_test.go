package gsheets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"catalogsync/internal"
)

func newTestConnector(t *testing.T, only []string) *Connector {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/spreadsheets/sheet-1"):
			_, _ = w.Write([]byte(`{"sheets":[{"properties":{"title":"Policarbonatos"}},{"properties":{"title":"Tejas"}}]}`))
		case strings.Contains(r.URL.Path, "/spreadsheets/sheet-1/values/"):
			_, _ = w.Write([]byte(`{"range":"'Policarbonatos'!A1:C3","values":[["SKU","Nombre","Stock"],[],["11223344"," Panel ",12]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewConnectorWithService(svc, "sheet-1", only, time.Second)
}

func newFlakyConnector(t *testing.T, failures int32, status int) (*Connector, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n <= failures {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"backend unavailable"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"range":"'Tejas'!A1:B2","values":[["SKU","Nombre"],["55667788","Teja"]]}`))
	}))
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	conn := NewConnectorWithService(svc, "sheet-1", nil, time.Second)
	conn.backoff = time.Millisecond
	return conn, calls
}

func TestListSheets(t *testing.T) {
	refs, err := newTestConnector(t, nil).ListSheets(context.Background())
	require.NoError(t, err)
	require.Equal(t, []internal.SheetRef{{Name: "Policarbonatos"}, {Name: "Tejas"}}, refs)

	refs, err = newTestConnector(t, []string{"tejas"}).ListSheets(context.Background())
	require.NoError(t, err)
	require.Equal(t, []internal.SheetRef{{Name: "Tejas"}}, refs)
}

func TestFetchConvertsCells(t *testing.T) {
	sheets, err := newTestConnector(t, nil).Fetch(context.Background(), internal.SheetRef{Name: "Policarbonatos"})
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	require.Equal(t, []internal.RawRow{{"SKU", "Nombre", "Stock"}, {"11223344", "Panel", "12"}}, sheets[0].Rows)
}

func TestFetchRetriesServerError(t *testing.T) {
	conn, calls := newFlakyConnector(t, 1, http.StatusServiceUnavailable)

	sheets, err := conn.Fetch(context.Background(), internal.SheetRef{Name: "Tejas"})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, []internal.RawRow{{"SKU", "Nombre"}, {"55667788", "Teja"}}, sheets[0].Rows)
}

func TestFetchGivesUpAfterSecondServerError(t *testing.T) {
	conn, calls := newFlakyConnector(t, 2, http.StatusTooManyRequests)

	_, err := conn.Fetch(context.Background(), internal.SheetRef{Name: "Tejas"})
	require.Error(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchDoesNotRetryClientError(t *testing.T) {
	conn, calls := newFlakyConnector(t, 1, http.StatusBadRequest)

	_, err := conn.Fetch(context.Background(), internal.SheetRef{Name: "Tejas"})
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchTimesOutSlowCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	svc, err := sheets.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	conn := NewConnectorWithService(svc, "sheet-1", nil, 50*time.Millisecond)
	conn.backoff = time.Millisecond

	start := time.Now()
	_, err = conn.Fetch(context.Background(), internal.SheetRef{Name: "Tejas"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestQuoteRange(t *testing.T) {
	require.Equal(t, "'Tejas'", quoteRange("Tejas"))
	require.Equal(t, "'O''Brien'", quoteRange("O'Brien"))
}
