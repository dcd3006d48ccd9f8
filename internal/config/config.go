package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath      string
	DatabaseURL string
	RawMailDir  string
	OutputDir   string

	SpreadsheetID      string
	Sheets             []string
	SheetURLs          map[string]string
	SourceMode         string
	SourceTimeoutMs    int
	SourceRateLimitRPS int

	SyncBatchSize      int
	SyncWorkers        int
	SyncLeaseTTLSec    int
	SyncWriteTimeoutMs int
	StockThreshold     int
	TaxRate            float64

	ReconcileTolerance int
	ServingURL         string

	RedisURL string
	HTTPAddr string
	LogLevel string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider    string
	MailListenerLabel       string
	MailListenerIntervalSec int
	MailListenerFetchMax    int
	MailListenerAutoExport  bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:      getEnv("DB_PATH", filepath.Join(cwd, "data", "catalog.db")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RawMailDir:  getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:   getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		SpreadsheetID:      getEnv("CATALOG_SPREADSHEET_ID", ""),
		Sheets:             getEnvList("CATALOG_SHEETS", nil),
		SheetURLs:          getEnvPairs("CATALOG_SHEET_URLS"),
		SourceMode:         getEnv("CATALOG_SOURCE", "csv"),
		SourceTimeoutMs:    getEnvInt("SOURCE_TIMEOUT_MS", 15000),
		SourceRateLimitRPS: getEnvInt("SOURCE_RATE_LIMIT_RPS", 5),

		SyncBatchSize:      getEnvInt("SYNC_BATCH_SIZE", 100),
		SyncWorkers:        getEnvInt("SYNC_WORKERS", 4),
		SyncLeaseTTLSec:    getEnvInt("SYNC_LEASE_TTL_SEC", 120),
		SyncWriteTimeoutMs: getEnvInt("SYNC_WRITE_TIMEOUT_MS", 30000),
		StockThreshold:     getEnvInt("STOCK_THRESHOLD", 10),
		TaxRate:            getEnvFloat("TAX_RATE", 0.19),

		ReconcileTolerance: getEnvInt("RECONCILE_TOLERANCE", 5),
		ServingURL:         getEnv("SERVING_URL", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GoogleRefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:    getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:       getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec: getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 300),
		MailListenerFetchMax:    getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerAutoExport:  getEnvBool("MAIL_LISTENER_AUTO_EXPORT", false),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// UsePostgres reports whether the store should be Postgres instead of the
// local sqlite file.
func (c Config) UsePostgres() bool {
	u := strings.ToLower(strings.TrimSpace(c.DatabaseURL))
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvPairs reads "name=url,name=url".
func getEnvPairs(key string) map[string]string {
	out := map[string]string{}
	for _, pair := range getEnvList(key, nil) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name != "" {
			out[name] = strings.TrimSpace(value)
		}
	}
	return out
}
