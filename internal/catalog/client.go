package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalogsync/internal"
	"catalogsync/internal/config"
	"catalogsync/internal/observability"
	"catalogsync/internal/pipeline"
)

const (
	sheetCSVURL   = "https://docs.google.com/spreadsheets/d/%s/gviz/tq?tqx=out:csv&sheet=%s"
	exportCSVURL  = "https://docs.google.com/spreadsheets/d/%s/export?format=csv"
	fetchAttempts = 2
)

// Client fetches sheet exports over HTTP. CSV is the normal format; a
// published HTML page or an XLSX workbook at the same URL is also accepted.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
	logger     *zap.Logger
}

func NewClient(cfg config.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.SourceTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.SourceRateLimitRPS),
		logger:     logger,
	}
}

// ListSheets returns the configured tabs. Explicit CATALOG_SHEET_URLS take
// precedence over names resolved against CATALOG_SPREADSHEET_ID.
func (c *Client) ListSheets(_ context.Context) ([]internal.SheetRef, error) {
	if len(c.cfg.SheetURLs) > 0 {
		refs := make([]internal.SheetRef, 0, len(c.cfg.SheetURLs))
		for name, u := range c.cfg.SheetURLs {
			refs = append(refs, internal.SheetRef{Name: name, URL: u})
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
		return refs, nil
	}

	id := strings.TrimSpace(c.cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("no source configured: set CATALOG_SPREADSHEET_ID or CATALOG_SHEET_URLS")
	}
	if len(c.cfg.Sheets) == 0 {
		return []internal.SheetRef{{Name: "Catalogo", URL: fmt.Sprintf(exportCSVURL, url.PathEscape(id))}}, nil
	}
	refs := make([]internal.SheetRef, 0, len(c.cfg.Sheets))
	for _, name := range c.cfg.Sheets {
		refs = append(refs, internal.SheetRef{
			Name: name,
			URL:  fmt.Sprintf(sheetCSVURL, url.PathEscape(id), url.QueryEscape(name)),
		})
	}
	return refs, nil
}

func (c *Client) Fetch(ctx context.Context, ref internal.SheetRef) ([]internal.Sheet, error) {
	body, contentType, err := c.fetchBody(ctx, ref)
	if err != nil {
		observability.SourceFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch sheet %s: %w", ref.Name, err)
	}
	sheets, err := decodeSheets(ref.Name, contentType, body)
	if err != nil {
		observability.SourceFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode sheet %s: %w", ref.Name, err)
	}
	observability.SourceFetches.WithLabelValues("ok").Inc()
	return sheets, nil
}

// fetchBody tries the request once more after a network error or a
// retryable status.
func (c *Client) fetchBody(ctx context.Context, ref internal.SheetRef) ([]byte, string, error) {
	if strings.TrimSpace(ref.URL) == "" {
		return nil, "", errors.New("sheet has no url")
	}

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if err := c.limiter.WaitTurn(ctx); err != nil {
			return nil, "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Accept", "text/csv, text/html;q=0.8, */*;q=0.5")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("sheet fetch failed", zap.String("sheet", ref.Name), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, "", ErrSheetNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("source status %d", resp.StatusCode)
			if isRetryableStatus(resp.StatusCode) && attempt < fetchAttempts {
				backoff := time.Duration(250+rand.Intn(100)) * time.Millisecond
				if err := wait(ctx, backoff); err != nil {
					return nil, "", err
				}
				continue
			}
			return nil, "", fmt.Errorf("source error: status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
		}
		return body, resp.Header.Get("Content-Type"), nil
	}

	if lastErr == nil {
		lastErr = errors.New("source request failed")
	}
	return nil, "", lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

var zipMagic = []byte("PK\x03\x04")

func decodeSheets(name, contentType string, body []byte) ([]internal.Sheet, error) {
	ct := strings.ToLower(contentType)
	switch {
	case bytes.HasPrefix(body, zipMagic) || strings.Contains(ct, "spreadsheetml"):
		sheets, err := pipeline.SheetsFromXLSX(body)
		if err != nil {
			return nil, err
		}
		for _, s := range sheets {
			if s.Name == name {
				return []internal.Sheet{s}, nil
			}
		}
		return sheets, nil
	case strings.Contains(ct, "text/html") || looksLikeHTML(body):
		sheets := pipeline.SheetsFromHTML(name, string(body))
		if len(sheets) == 0 {
			return nil, errors.New("html response has no table")
		}
		return sheets, nil
	default:
		return []internal.Sheet{pipeline.ParseSheet(name, string(body))}, nil
	}
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
