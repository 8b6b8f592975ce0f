package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"scholarpass/internal/config"
	"scholarpass/internal/infrastructure"
	"scholarpass/internal/license"
)

// Opened is a ready ledger store and the resources behind it.
type Opened struct {
	Store   license.Store
	Backend string
	closers []func() error
}

// Close releases backend connections.
func (o *Opened) Close() error {
	if o == nil {
		return nil
	}
	var errs []error
	for _, c := range o.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Open builds the store selected by cfg.Backend and wraps it with tracing
// and metrics. A backend missing its secrets returns an error wrapping
// license.ErrStoreNotConfigured; callers may still start and deny every
// activation with that reason.
func Open(ctx context.Context, cfg config.LedgerConfig, paths *config.Paths, metrics *license.Metrics, logger *slog.Logger) (*Opened, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	opened := &Opened{Backend: cfg.Backend}
	var store license.Store

	switch cfg.Backend {
	case config.BackendGist:
		g, err := NewGist(GistConfig{
			BaseURL:    cfg.GistAPIURL,
			GistID:     cfg.DocumentID,
			Token:      cfg.AccessToken,
			FileName:   cfg.DocumentName,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, err
		}
		store = g

	case config.BackendSheets:
		s, err := NewSheets(ctx, SheetsConfig{
			SpreadsheetID:   cfg.DocumentID,
			SheetName:       cfg.SheetName,
			CredentialsFile: cfg.SheetsCredentialsFile,
			Endpoint:        cfg.SheetsEndpoint,
		})
		if err != nil {
			return nil, err
		}
		store = s

	case config.BackendMinio:
		m, err := NewMinio(ctx, MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Object:    cfg.DocumentName,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = m

	case config.BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis ledger needs a redis url: %w", license.ErrStoreNotConfigured)
		}
		client, err := infrastructure.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		opened.closers = append(opened.closers, client.Close)
		store = NewRedis(client, cfg.RedisKey)

	case config.BackendFile:
		path := cfg.FilePath
		if paths != nil && paths.LedgerFile != "" {
			path = paths.LedgerFile
		}
		f, err := NewFile(path)
		if err != nil {
			return nil, err
		}
		store = f

	case config.BackendMemory:
		logger.WarnContext(ctx, "using in-memory ledger; activations are lost on restart")
		store = NewMemory(nil)

	default:
		return nil, fmt.Errorf("unknown ledger backend %q: %w", cfg.Backend, license.ErrStoreNotConfigured)
	}

	opened.Store = license.InstrumentStore(store, cfg.Backend, metrics)
	logger.InfoContext(ctx, "ledger store ready",
		slog.String("backend", cfg.Backend),
		slog.String("document", cfg.DocumentName))
	return opened, nil
}

var _ RedisClient = (*redis.Client)(nil)
