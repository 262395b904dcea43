package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/pki"
)

func newRevokeCommand(a *app) *cobra.Command {
	var (
		who    requesterFlags
		reason string
	)
	cmd := &cobra.Command{
		Use:   "revoke SERIAL",
		Short: "Revoke a certificate",
		Long: `Revoke a certificate. Revoking an already revoked certificate returns
the original record. Reasons are RFC 5280 names (key-compromise, superseded,
...) or their numeric codes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := who.requester()
			if err != nil {
				return err
			}
			r, err := pki.ParseRevocationReason(reason)
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(e *pki.Engine) error {
				rc, err := e.Revoke(cmd.Context(), pki.RevocationRequest{SerialNumber: args[0], Reason: r}, requester)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rc)
			})
		},
	}
	who.register(cmd)
	cmd.Flags().StringVar(&reason, "reason", "unspecified", "Revocation reason")
	return cmd
}

func newWithdrawCommand(a *app) *cobra.Command {
	var who requesterFlags
	cmd := &cobra.Command{
		Use:   "withdraw SERIAL",
		Short: "Withdraw a certificate so it no longer issues or anchors chains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := who.requester()
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(e *pki.Engine) error {
				if err := e.Withdraw(cmd.Context(), args[0], requester); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "withdrawn %s\n", args[0])
				return nil
			})
		},
	}
	who.register(cmd)
	return cmd
}
