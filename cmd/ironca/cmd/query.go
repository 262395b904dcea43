package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/pki"
)

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify SERIAL",
		Short: "Check that a certificate chains to a trusted root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *pki.Engine) error {
				if err := e.VerifyChain(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: chain valid\n", args[0])
				return nil
			})
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issued certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *pki.Engine) error {
				recs, err := e.ListCertificates(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERIAL\tTYPE\tSUBJECT\tEXPIRES\tWITHDRAWN")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
						r.SerialNumber, r.Type, r.Subject, r.Expires.Format(time.DateOnly), r.IsWithdrawn)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newIssuersCommand(a *app) *cobra.Command {
	var (
		who    requesterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "issuers",
		Short: "List the CAs a requester may issue from",
		Long: `List the unwithdrawn, currently valid CAs a requester may issue from.
Admins see every CA, CA users the CAs of their organization, and users their
organization's CAs plus the public and government CAs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := who.requester()
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(e *pki.Engine) error {
				recs, err := e.AvailableIssuers(cmd.Context(), requester)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERIAL\tTYPE\tSUBJECT\tEXPIRES")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.SerialNumber, r.Type, r.Subject, r.Expires.Format(time.DateOnly))
				}
				return tw.Flush()
			})
		},
	}
	who.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect SERIAL",
		Short: "Show a certificate with its extensions and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *pki.Engine) error {
				info, err := e.Inspect(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

func newAuditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Cross-check certificate records against key custody",
		Long: `Cross-check certificate records against key custody. Records without a
key entry and key entries without a record (left by an interrupted issuance)
are reported, and the command fails if any are found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *pki.Engine) error {
				report, err := e.Audit(cmd.Context())
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Clean() {
					return fmt.Errorf("audit found %d missing and %d orphan key entries",
						len(report.MissingKeys), len(report.OrphanKeys))
				}
				return nil
			})
		},
	}
}
