// Package cli implements ledgerctl, the operator tool for the license
// ledger.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"scholarpass/internal/config"
	"scholarpass/internal/infrastructure"
	"scholarpass/internal/ledgerstore"
	"scholarpass/internal/license"
	"scholarpass/pkg/contracts"
)

// StoreOpener returns the ledger store selected by the configuration at
// configPath and a function releasing it.
type StoreOpener func(ctx context.Context, configPath string) (license.Store, func() error, error)

// app carries the state shared by every subcommand.
type app struct {
	open       StoreOpener
	now        func() time.Time
	configPath string
	jsonOutput bool
}

// NewRootCommand builds the ledgerctl command tree. A nil opener uses the
// configured backend.
func NewRootCommand(open StoreOpener) *cobra.Command {
	if open == nil {
		open = OpenConfiguredStore
	}
	a := &app{open: open, now: time.Now}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Manage the scholarpass license ledger",
		Long: `ledgerctl provisions, inspects and exports the license ledger that
scholarpass activates against. It talks to the same backend as the server,
selected by the SCHOLARPASS_LEDGER_* settings or the config file.`,
		Version:       contracts.GetFullVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the config file")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newProvisionCommand(a),
		newListCommand(a),
		newShowCommand(a),
		newExportCommand(a),
	)
	return root
}

// Execute runs ledgerctl and exits non-zero on failure.
func Execute() {
	root := NewRootCommand(nil)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl: "+err.Error())
		os.Exit(1)
	}
}

// OpenConfiguredStore opens the ledger backend named by the configuration.
func OpenConfiguredStore(ctx context.Context, configPath string) (license.Store, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := infrastructure.NewLogger(os.Stderr, "warn")
	opened, err := ledgerstore.Open(ctx, cfg.Ledger, paths, nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s ledger: %w", cfg.Ledger.Backend, err)
	}
	return opened.Store, opened.Close, nil
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, store license.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := a.open(ctx, a.configPath)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	return fn(ctx, store)
}

func (a *app) fetch(ctx context.Context, store license.Store) (license.Ledger, error) {
	snap, err := store.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger: %w", err)
	}
	return snap.Ledger, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
