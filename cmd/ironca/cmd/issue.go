package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/pki"
)

func newIssueCommand(a *app) *cobra.Command {
	var (
		who       requesterFlags
		certType  string
		subject   pki.Identity
		issuer    string
		issuerDN  string
		exts      []string
		critical  []string
		notBefore string
		validity  time.Duration
		sigAlg    string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a certificate",
		Example: `  ironca issue --type root --cn "Acme Root" --o Acme
  ironca issue --type intermediate --issuer 5f0e... --cn "Acme Issuing" --critical BasicConstraints=CA:true
  ironca issue --type end-entity --issuer 7a1c... --cn www.acme.test --ext SubjectAlternativeName=DNS:www.acme.test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := who.requester()
			if err != nil {
				return err
			}
			t, err := pki.ParseCertificateType(certType)
			if err != nil {
				return err
			}
			req := pki.CreateCertificateRequest{
				Type:               t,
				Subject:            subject,
				IssuerSerialNumber: issuer,
				SignatureAlgorithm: sigAlg,
			}
			if issuerDN != "" {
				id, err := pki.ParseDN(issuerDN)
				if err != nil {
					return err
				}
				req.Issuer = &id
			}
			for _, list := range []struct {
				values   []string
				critical bool
			}{{exts, false}, {critical, true}} {
				for _, v := range list.values {
					d, err := parseExtensionFlag(v, list.critical)
					if err != nil {
						return err
					}
					req.Extensions = append(req.Extensions, d)
				}
			}
			if notBefore != "" {
				if req.NotBefore, err = time.Parse(time.RFC3339, notBefore); err != nil {
					return fmt.Errorf("--not-before: %w", err)
				}
			}
			if validity > 0 {
				start := req.NotBefore
				if start.IsZero() {
					start = time.Now()
				}
				req.NotAfter = start.Add(validity)
			}

			return a.withEngine(cmd, func(e *pki.Engine) error {
				rec, err := e.CreateCertificate(cmd.Context(), req, requester)
				if err != nil {
					return err
				}
				if out != "" {
					cert, err := e.Certificate(cmd.Context(), rec.SerialNumber)
					if err != nil {
						return err
					}
					if err := os.WriteFile(out, pki.EncodeCertificatePEM(cert), 0o644); err != nil {
						return fmt.Errorf("writing %s: %w", out, err)
					}
				}
				return printJSON(cmd.OutOrStdout(), rec.Record())
			})
		},
	}
	who.register(cmd)
	f := cmd.Flags()
	f.StringVar(&certType, "type", "", "Certificate type: root, intermediate or end-entity")
	f.StringVar(&subject.CommonName, "cn", "", "Subject common name")
	f.StringVar(&subject.Organization, "o", "", "Subject organization")
	f.StringVar(&subject.OrganizationalUnit, "ou", "", "Subject organizational unit")
	f.StringVar(&subject.Country, "c", "", "Subject country")
	f.StringVar(&subject.State, "st", "", "Subject state or province")
	f.StringVar(&subject.Locality, "l", "", "Subject locality")
	f.StringVar(&subject.Email, "email", "", "Subject email address")
	f.StringVar(&issuer, "issuer", "", "Serial number of the issuing CA")
	f.StringVar(&issuerDN, "issuer-dn", "", "Expected issuer DN; for roots it must equal the subject")
	f.StringArrayVar(&exts, "ext", nil, "Non-critical extension as Name=value or OID=hex (repeatable)")
	f.StringArrayVar(&critical, "critical", nil, "Critical extension as Name=value or OID=hex (repeatable)")
	f.StringVar(&notBefore, "not-before", "", "Start of validity (RFC 3339); defaults to now")
	f.DurationVar(&validity, "validity", 0, "Validity period; defaults to the type's default")
	f.StringVar(&sigAlg, "signature-algorithm", "", "Signature algorithm such as ECDSA-SHA384; defaults to the signing key's")
	f.StringVar(&out, "out", "", "Write the certificate PEM to this file")
	cmd.MarkFlagRequired("type")
	return cmd
}

// parseExtensionFlag splits "Name=value". A dotted numeric name is taken
// as an OID.
func parseExtensionFlag(s string, critical bool) (pki.ExtensionDescriptor, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return pki.ExtensionDescriptor{}, fmt.Errorf("extension %q: want Name=value", s)
	}
	d := pki.ExtensionDescriptor{Critical: critical, Value: value}
	if strings.Trim(name, "0123456789.") == "" {
		d.OID = name
	} else {
		d.Name = name
	}
	return d, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
