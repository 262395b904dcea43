package cmd

import (
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/pki"
)

func newCRLCommand(a *app) *cobra.Command {
	var (
		issuerDN string
		out      string
		asPEM    bool
	)
	cmd := &cobra.Command{
		Use:   "crl",
		Short: "Generate the CRL of an issuer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *pki.Engine) error {
				der, err := e.GenerateCRL(cmd.Context(), issuerDN)
				if err != nil {
					return err
				}
				data := der
				if asPEM {
					data = pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})
				}
				if out == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", out, err)
				}
				number, err := pki.ParseCRLNumber(der)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote CRL #%s to %s\n", number, out)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&issuerDN, "issuer-dn", "", "Distinguished name of the issuing CA")
	f.StringVar(&out, "out", "", "Write the CRL to this file instead of stdout")
	f.BoolVar(&asPEM, "pem", false, "PEM-encode the CRL")
	cmd.MarkFlagRequired("issuer-dn")
	return cmd
}
