package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/internal/util"
	"github.com/jmcleod/ironca/pki"
)

// exportPasswordEnv is read when --password-file is not given.
const exportPasswordEnv = "IRONCA_EXPORT_PASSWORD"

func newExportCommand(a *app) *cobra.Command {
	var (
		who          requesterFlags
		passwordFile string
		outDir       string
	)
	cmd := &cobra.Command{
		Use:   "export SERIAL",
		Short: "Export a certificate and its key as encrypted PKCS#8",
		Long: `Export a certificate and its private key. The key is written as an
ENCRYPTED PRIVATE KEY PEM protected by the password read from --password-file
or the ` + exportPasswordEnv + ` environment variable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := who.requester()
			if err != nil {
				return err
			}
			password, err := readExportPassword(passwordFile)
			if err != nil {
				return err
			}
			defer util.WipeBytes(password)

			return a.withEngine(cmd, func(e *pki.Engine) error {
				kp, err := e.ExportKeyPair(cmd.Context(), args[0], password, requester)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(outDir, 0o700); err != nil {
					return err
				}
				certPath := filepath.Join(outDir, kp.SerialNumber+".crt")
				keyPath := filepath.Join(outDir, kp.SerialNumber+".key")
				if err := os.WriteFile(certPath, kp.CertificatePEM, 0o644); err != nil {
					return err
				}
				if err := os.WriteFile(keyPath, kp.PrivateKeyPEM, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", certPath, keyPath)
				return nil
			})
		},
	}
	who.register(cmd)
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "File holding the export password")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for the exported files")
	return cmd
}

func readExportPassword(path string) ([]byte, error) {
	if path == "" {
		if pw := os.Getenv(exportPasswordEnv); pw != "" {
			return []byte(pw), nil
		}
		return nil, errors.New("an export password is required: use --password-file or " + exportPasswordEnv)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading password file: %w", err)
	}
	return bytes.TrimRight(data, "\r\n"), nil
}
