package api

import "github.com/jmcleod/ironca/pki"

type ErrorResponse struct {
	Error string `json:"error"`
}

type CertificateListResponse struct {
	Items []pki.CertificateRecord `json:"items"`
	PaginationMeta
}

type IssuerListResponse struct {
	Items []pki.CertificateRecord `json:"items"`
}

type RevocationListResponse struct {
	IssuerDN string                   `json:"issuer_dn"`
	Items    []pki.RevokedCertificate `json:"items"`
	PaginationMeta
}

type RevocationStatusResponse struct {
	SerialNumber string `json:"serial_number"`
	Revoked      bool   `json:"revoked"`
}

type ChainStatusResponse struct {
	SerialNumber string `json:"serial_number"`
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason,omitempty"`
}
