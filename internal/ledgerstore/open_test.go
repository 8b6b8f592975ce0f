package ledgerstore

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpass/internal/config"
	"scholarpass/internal/infrastructure"
	"scholarpass/internal/license"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := infrastructure.NewLogger(io.Discard, "error")

	tests := []struct {
		name          string
		mutate        func(*config.LedgerConfig)
		paths         *config.Paths
		notConfigured bool
	}{
		{
			name:   "memory",
			mutate: func(c *config.LedgerConfig) { c.Backend = config.BackendMemory },
		},
		{
			name:   "file from resolved paths",
			mutate: func(c *config.LedgerConfig) { c.Backend = config.BackendFile },
			paths:  &config.Paths{LedgerFile: filepath.Join(t.TempDir(), "licenses.json")},
		},
		{
			name: "gist with secrets",
			mutate: func(c *config.LedgerConfig) {
				c.Backend = config.BackendGist
				c.AccessToken = "ghp_x"
				c.DocumentID = "g1"
			},
		},
		{
			name:          "gist without secrets",
			mutate:        func(c *config.LedgerConfig) { c.Backend = config.BackendGist },
			notConfigured: true,
		},
		{
			name:          "sheets without spreadsheet",
			mutate:        func(c *config.LedgerConfig) { c.Backend = config.BackendSheets },
			notConfigured: true,
		},
		{
			name:          "minio without credentials",
			mutate:        func(c *config.LedgerConfig) { c.Backend = config.BackendMinio },
			notConfigured: true,
		},
		{
			name:          "redis without url",
			mutate:        func(c *config.LedgerConfig) { c.Backend = config.BackendRedis },
			notConfigured: true,
		},
		{
			name:          "unknown backend",
			mutate:        func(c *config.LedgerConfig) { c.Backend = "postgres" },
			notConfigured: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Ledger
			tt.mutate(&cfg)

			opened, err := Open(ctx, cfg, tt.paths, nil, logger)
			if tt.notConfigured {
				assert.ErrorIs(t, err, license.ErrStoreNotConfigured)
				return
			}
			require.NoError(t, err)
			defer opened.Close()

			assert.Equal(t, cfg.Backend, opened.Backend)
			require.NotNil(t, opened.Store)
			_, isPinger := opened.Store.(license.Pinger)
			assert.True(t, isPinger)
		})
	}
}

func TestOpenedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Ledger
	cfg.Backend = config.BackendFile
	cfg.FilePath = filepath.Join(t.TempDir(), "licenses.json")

	opened, err := Open(ctx, cfg, nil, nil, infrastructure.NewLogger(io.Discard, "error"))
	require.NoError(t, err)

	require.NoError(t, opened.Store.Replace(ctx, license.Ledger{"K1": license.NewUnusedRecord(5)}, ""))
	snap, err := opened.Store.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Ledger["K1"].ValidDays)
	assert.NoError(t, opened.Close())
}
