package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"scholarpass/internal/license"
)

func newProvisionCommand(a *app) *cobra.Command {
	var req license.ProvisionRequest

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Mint new UNUSED license keys",
		Example: `  ledgerctl provision --count 20 --valid-days 90
  ledgerctl provision -n 5 --prefix VIP --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store license.Store) error {
				keys, err := license.Provision(ctx, store, req)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return outputJSON(out, map[string]any{
						"keys":       keys,
						"valid_days": req.ValidDays,
					})
				}
				for _, k := range keys {
					fmt.Fprintln(out, k)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "provisioned %d keys\n", len(keys))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&req.Count, "count", "n", 1, "number of keys to mint")
	cmd.Flags().IntVar(&req.ValidDays, "valid-days", license.DefaultValidDays, "validity in days, counted from activation")
	cmd.Flags().StringVar(&req.Prefix, "prefix", license.DefaultKeyPrefix, "key prefix")
	return cmd
}
