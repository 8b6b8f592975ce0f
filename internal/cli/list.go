package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"scholarpass/internal/exporter"
	"scholarpass/internal/license"
)

// recordView is the JSON shape of one ledger entry.
type recordView struct {
	Key         string `json:"license_key"`
	Status      string `json:"status"`
	ValidDays   int    `json:"valid_days"`
	BoundDevice string `json:"bind_device,omitempty"`
	ActivatedAt string `json:"activated_at,omitempty"`
	ExpireAt    string `json:"expire_at,omitempty"`
	Valid       bool   `json:"valid"`
	Problem     string `json:"problem,omitempty"`
}

func viewOf(key string, rec license.Record) recordView {
	v := recordView{
		Key:         key,
		Status:      string(rec.Status),
		ValidDays:   rec.EffectiveValidDays(),
		BoundDevice: rec.BoundDevice,
		ActivatedAt: rec.ActivatedAt,
		ExpireAt:    rec.ExpireAt,
		Valid:       true,
	}
	if err := rec.Validate(); err != nil {
		v.Valid = false
		v.Problem = err.Error()
	}
	return v
}

func newListCommand(a *app) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List licenses in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store license.Store) error {
				ledger, err := a.fetch(ctx, store)
				if err != nil {
					return err
				}

				views := make([]recordView, 0, len(ledger))
				for _, key := range ledger.Keys() {
					rec := ledger[key]
					if status != "" && !strings.EqualFold(string(rec.Status), status) {
						continue
					}
					views = append(views, viewOf(key, rec))
				}

				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return outputJSON(out, views)
				}

				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tSTATUS\tDAYS\tEXPIRES\tDEVICE")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", v.Key, v.Status, v.ValidDays, dash(v.ExpireAt), dash(v.BoundDevice))
				}
				if err := tw.Flush(); err != nil {
					return err
				}

				s := exporter.Summarize(ledger)
				fmt.Fprintf(cmd.ErrOrStderr(), "%d licenses: %d unused, %d used\n", s.Total, s.Unused, s.Used)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only show licenses with this status (UNUSED or USED)")
	return cmd
}

func newShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <license-key>",
		Short: "Show one license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store license.Store) error {
				ledger, err := a.fetch(ctx, store)
				if err != nil {
					return err
				}
				rec, ok := ledger[args[0]]
				if !ok {
					return fmt.Errorf("%s: %w", license.MaskLicense(args[0]), license.ErrLicenseNotFound)
				}

				v := viewOf(args[0], rec)
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return outputJSON(out, v)
				}

				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "License:\t%s\n", v.Key)
				fmt.Fprintf(tw, "Status:\t%s\n", v.Status)
				fmt.Fprintf(tw, "Valid days:\t%d\n", v.ValidDays)
				fmt.Fprintf(tw, "Device:\t%s\n", dash(v.BoundDevice))
				fmt.Fprintf(tw, "Activated:\t%s\n", dash(v.ActivatedAt))
				fmt.Fprintf(tw, "Expires:\t%s\n", dash(v.ExpireAt))
				if !v.Valid {
					fmt.Fprintf(tw, "Problem:\t%s\n", v.Problem)
				}
				return tw.Flush()
			})
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
