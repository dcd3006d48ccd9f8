package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/storage"
)

// SourceCounter counts the data rows of every source sheet, header excluded.
// Rows the pipeline would reject still count, so a batch of bad codes shows
// up as a gap against the store.
func SourceCounter(source catalog.Source) Counter {
	return CounterFunc(func(ctx context.Context) (int, error) {
		refs, err := source.ListSheets(ctx)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, ref := range refs {
			sheets, err := source.Fetch(ctx, ref)
			if err != nil {
				return 0, err
			}
			for _, sheet := range sheets {
				if len(sheet.Rows) > 1 {
					n += len(sheet.Rows) - 1
				}
			}
		}
		return n, nil
	})
}

// StoreCounter counts rows in the products table.
func StoreCounter(store interface {
	CountProducts(ctx context.Context) (int, error)
}) Counter {
	return CounterFunc(store.CountProducts)
}

type servingCatalog struct {
	Groups []struct {
		Products []json.RawMessage `json:"products"`
	} `json:"groups"`
}

// HTTPServingCounter counts the products the serving API returns at
// baseURL + "/api/catalog".
func HTTPServingCounter(baseURL string, client *http.Client) Counter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/api/catalog"
	return CounterFunc(func(ctx context.Context) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("serving api status %d", resp.StatusCode)
		}
		var body servingCatalog
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return 0, fmt.Errorf("decode serving catalog: %w", err)
		}
		n := 0
		for _, g := range body.Groups {
			n += len(g.Products)
		}
		return n, nil
	})
}

// IndexServingCounter counts the products of the in-process serving index.
func IndexServingCounter(svc *catalog.SyncService) Counter {
	return CounterFunc(func(ctx context.Context) (int, error) {
		idx, err := svc.Products(ctx, storage.ProductFilter{})
		if err != nil {
			return 0, err
		}
		n := 0
		for _, g := range idx.Groups {
			n += len(g.Products)
		}
		return n, nil
	})
}
