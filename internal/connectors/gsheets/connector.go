// Package gsheets reads catalog tabs through the Google Sheets API. It is
// the alternative to the public CSV export when the spreadsheet is private.
package gsheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"catalogsync/internal"
	"catalogsync/internal/config"
	"catalogsync/internal/connectors"
	"catalogsync/internal/pipeline"
)

const (
	callAttempts   = 2
	defaultTimeout = 15 * time.Second
)

type Connector struct {
	service       *sheets.Service
	spreadsheetID string
	only          []string
	timeout       time.Duration
	backoff       time.Duration
}

func NewConnector(ctx context.Context, cfg config.Config) (*Connector, error) {
	if err := cfg.Require("CATALOG_SPREADSHEET_ID", cfg.SpreadsheetID); err != nil {
		return nil, err
	}
	tokenSource, err := connectors.GoogleTokenSource(ctx, cfg, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.SourceTimeoutMs) * time.Millisecond
	return NewConnectorWithService(svc, cfg.SpreadsheetID, cfg.Sheets, timeout), nil
}

// NewConnectorWithService wraps an existing client. only limits ListSheets
// to the named tabs; empty means every tab. timeout bounds each API call.
func NewConnectorWithService(svc *sheets.Service, spreadsheetID string, only []string, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Connector{
		service:       svc,
		spreadsheetID: spreadsheetID,
		only:          only,
		timeout:       timeout,
		backoff:       300 * time.Millisecond,
	}
}

func (c *Connector) ListSheets(ctx context.Context) ([]internal.SheetRef, error) {
	var resp *sheets.Spreadsheet
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.service.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list spreadsheet tabs: %w", err)
	}

	var refs []internal.SheetRef
	for _, s := range resp.Sheets {
		if s.Properties == nil {
			continue
		}
		title := s.Properties.Title
		if len(c.only) > 0 && !contains(c.only, title) {
			continue
		}
		refs = append(refs, internal.SheetRef{Name: title})
	}
	return refs, nil
}

func (c *Connector) Fetch(ctx context.Context, ref internal.SheetRef) ([]internal.Sheet, error) {
	var resp *sheets.ValueRange
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.service.Spreadsheets.Values.Get(c.spreadsheetID, quoteRange(ref.Name)).
			ValueRenderOption("FORMATTED_VALUE").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read tab %s: %w", ref.Name, err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		rows = append(rows, cells)
	}
	return []internal.Sheet{pipeline.SheetFromCells(ref.Name, rows)}, nil
}

// call runs fn under the per-call timeout and tries once more after a rate
// limit, a server error or a timed out attempt.
func (c *Connector) call(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= callAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil || attempt == callAttempts || ctx.Err() != nil || !retryable(err) {
			return err
		}
		timer := time.NewTimer(c.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// quoteRange turns a tab title into an A1 range covering the whole tab.
func quoteRange(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
