package listener

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalogsync/internal"
	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/connectors"
	gmailconnector "catalogsync/internal/connectors/gmail"
	imapconnector "catalogsync/internal/connectors/imap"
	"catalogsync/internal/lease"
	"catalogsync/internal/pipeline"
	"catalogsync/internal/storage"
)

const pendingBatch = 20

// Service polls a mailbox for price-list attachments and syncs each one into
// the catalog.
type Service struct {
	db      *storage.DB
	cfg     config.Config
	sync    *catalog.SyncService
	logger  *zap.Logger
	connect func(ctx context.Context) (connectors.MailConnector, error)
}

type CycleResult struct {
	Fetched   int
	New       int
	Processed int
	Ignored   int
	Failed    int
	Exported  string
}

func NewService(db *storage.DB, cfg config.Config, sync *catalog.SyncService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{db: db, cfg: cfg, sync: sync, logger: logger.Named("listener")}
	s.connect = s.makeConnector
	return s
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(max(s.cfg.MailListenerIntervalSec, 1)) * time.Second
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("listener cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// RunCycle fetches new mail, syncs every pending attachment and optionally
// exports the resulting availability sheet.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var res CycleResult

	mail, err := s.connect(ctx)
	if err != nil {
		return res, err
	}
	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mail)
	fetched, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return res, fmt.Errorf("fetch mail: %w", err)
	}
	res.Fetched, res.New = fetched.Fetched, fetched.New

	pending, err := s.db.ListEmailsByStatus(connectors.StatusFetched, pendingBatch)
	if err != nil {
		return res, err
	}
	for _, email := range pending {
		status, err := s.processEmail(ctx, email.RawRef)
		if errors.Is(err, lease.ErrLeaseHeld) {
			// Left as fetched so the next cycle retries it.
			s.logger.Info("sync in progress, deferring email", zap.Int("email_id", email.ID))
			continue
		}
		if err != nil {
			s.logger.Warn("email sync failed", zap.Int("email_id", email.ID), zap.String("subject", email.Subject), zap.Error(err))
		}
		if err := s.db.UpdateEmailStatus(email.ID, status); err != nil {
			return res, err
		}
		switch status {
		case connectors.StatusProcessed:
			res.Processed++
		case connectors.StatusIgnored:
			res.Ignored++
		default:
			res.Failed++
		}
	}

	if s.cfg.MailListenerAutoExport && res.Processed > 0 {
		path, err := s.exportAvailability(ctx)
		if err != nil {
			return res, fmt.Errorf("export availability: %w", err)
		}
		res.Exported = path
	}

	s.logger.Info("listener cycle done",
		zap.String("provider", s.cfg.MailListenerProvider),
		zap.Int("fetched", res.Fetched),
		zap.Int("new", res.New),
		zap.Int("processed", res.Processed),
		zap.Int("ignored", res.Ignored),
		zap.Int("failed", res.Failed),
	)
	err = s.db.InsertRun(uuid.NewString(), "listener",
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{"fetched": res.Fetched, "new": res.New, "processed": res.Processed, "ignored": res.Ignored, "failed": res.Failed},
	)
	return res, err
}

// processEmail returns the status the email should move to.
func (s *Service) processEmail(ctx context.Context, rawRef string) (string, error) {
	raw, err := os.ReadFile(rawRef)
	if err != nil {
		return connectors.StatusFailed, err
	}
	sheets, _, err := pipeline.SheetsFromEmailRaw(raw)
	if err != nil {
		return connectors.StatusFailed, err
	}
	if len(sheets) == 0 {
		return connectors.StatusIgnored, nil
	}

	res, err := s.sync.SyncFrom(ctx, catalog.StaticSource(sheets), catalog.SyncOptions{})
	if err != nil {
		if errors.Is(err, lease.ErrLeaseHeld) {
			return connectors.StatusFetched, err
		}
		return connectors.StatusFailed, err
	}
	if res.Processed == 0 {
		return connectors.StatusIgnored, nil
	}
	if res.Failed > 0 {
		return connectors.StatusFailed, fmt.Errorf("%d records failed to store", res.Failed)
	}
	return connectors.StatusProcessed, nil
}

func (s *Service) exportAvailability(ctx context.Context) (string, error) {
	index, err := s.sync.Products(ctx, storage.ProductFilter{})
	if err != nil {
		return "", err
	}
	records := make([]internal.ProductRecord, 0, index.Len())
	for _, group := range index.Groups {
		records = append(records, group.Products...)
	}
	name := fmt.Sprintf("availability_%s.xlsx", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.cfg.OutputDir, "listener", name)
	return path, pipeline.ExportAvailabilityXLSX(records, path)
}

func (s *Service) makeConnector(ctx context.Context) (connectors.MailConnector, error) {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}
