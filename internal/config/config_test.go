package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"CATALOG_SHEETS", "CATALOG_SHEET_URLS", "SYNC_BATCH_SIZE", "SYNC_WRITE_TIMEOUT_MS", "TAX_RATE", "REDIS_URL", "DATABASE_URL", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 100, cfg.SyncBatchSize)
	require.Equal(t, 4, cfg.SyncWorkers)
	require.Equal(t, 30000, cfg.SyncWriteTimeoutMs)
	require.Equal(t, 10, cfg.StockThreshold)
	require.Equal(t, 5, cfg.ReconcileTolerance)
	require.InDelta(t, 0.19, cfg.TaxRate, 1e-9)
	require.Equal(t, "csv", cfg.SourceMode)
	require.Empty(t, cfg.Sheets)
	require.Empty(t, cfg.SheetURLs)
	require.False(t, cfg.UsePostgres())
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CATALOG_SHEETS", "Policarbonatos, Perfiles ,")
	t.Setenv("CATALOG_SHEET_URLS", "Policarbonatos=https://example.com/a.csv,bad,Perfiles = https://example.com/b.csv")
	t.Setenv("SYNC_BATCH_SIZE", "25")
	t.Setenv("SYNC_WORKERS", "nope")
	t.Setenv("IMAP_SECURE", "off")
	t.Setenv("TAX_RATE", "0.21")
	t.Setenv("DATABASE_URL", "postgres://catalog@localhost/catalog")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"Policarbonatos", "Perfiles"}, cfg.Sheets)
	require.Equal(t, map[string]string{
		"Policarbonatos": "https://example.com/a.csv",
		"Perfiles":       "https://example.com/b.csv",
	}, cfg.SheetURLs)
	require.Equal(t, 25, cfg.SyncBatchSize)
	require.Equal(t, 4, cfg.SyncWorkers)
	require.False(t, cfg.IMAPSecure)
	require.InDelta(t, 0.21, cfg.TaxRate, 1e-9)
	require.True(t, cfg.UsePostgres())
}

func TestRequire(t *testing.T) {
	var cfg Config
	require.EqualError(t, cfg.Require("IMAP_HOST", "  "), "missing required env var: IMAP_HOST")
	require.NoError(t, cfg.Require("IMAP_HOST", "imap.example.com"))
}
