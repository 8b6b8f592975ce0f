package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scholarpass/internal/exporter"
	"scholarpass/internal/license"
)

func newExportCommand(a *app) *cobra.Command {
	var (
		output string
		xlsx   bool
		noBOM  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the ledger as CSV or an Excel workbook",
		Example: `  ledgerctl export > licenses.csv
  ledgerctl export --xlsx -o licenses.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.EqualFold(filepath.Ext(output), ".xlsx") {
				xlsx = true
			}

			return a.withStore(cmd, func(ctx context.Context, store license.Store) error {
				ledger, err := a.fetch(ctx, store)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}

				if err := writeLedger(w, ledger, xlsx, !noBOM, a.now()); err != nil {
					return err
				}
				if output != "" && output != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "exported %d licenses to %s\n", len(ledger), output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&xlsx, "xlsx", false, "write an Excel workbook instead of CSV")
	cmd.Flags().BoolVar(&noBOM, "no-bom", false, "omit the UTF-8 BOM from CSV output")
	return cmd
}

func writeLedger(w io.Writer, ledger license.Ledger, xlsx, bom bool, now time.Time) error {
	if xlsx {
		return exporter.WriteXLSX(w, ledger, now)
	}
	return exporter.WriteCSV(w, ledger, exporter.WriteOptions{BOMPrefix: bom})
}
