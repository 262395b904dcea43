package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ironca/pki"
)

// GetCRL serves the DER CRL for the issuer named by the issuerDn query
// parameter. Errors are plain text.
func (a *API) GetCRL(w http.ResponseWriter, r *http.Request) {
	issuerDN := r.URL.Query().Get("issuerDn")
	if issuerDN == "" {
		http.Error(w, "CRL generation error: issuerDn is required", http.StatusBadRequest)
		return
	}
	der, err := a.ca.GenerateCRL(r.Context(), issuerDN)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, pki.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, pki.ErrValidation):
			status = http.StatusBadRequest
		default:
			a.logger.Error("crl generation failed",
				slog.String("issuer", issuerDN),
				slog.String("error", err.Error()))
		}
		http.Error(w, fmt.Sprintf("CRL generation error: %v", err), status)
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	w.Header().Set("Content-Length", strconv.Itoa(len(der)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(der)
}

func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	recs, err := a.ca.ListCertificates(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	items, meta := page(r, recs)
	writeJSON(w, http.StatusOK, CertificateListResponse{Items: items, PaginationMeta: meta})
}

// Headers naming the caller. The authenticating proxy in front of the API
// sets them.
const (
	HeaderOrganization = "X-Ironca-Organization"
	HeaderRole         = "X-Ironca-Role"
)

// ListIssuers lists the CAs the caller named by the requester headers may
// issue from.
func (a *API) ListIssuers(w http.ResponseWriter, r *http.Request) {
	role, err := pki.ParseRole(r.Header.Get(HeaderRole))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	requester := pki.AuthenticatedRequester{
		OrganizationID: r.Header.Get(HeaderOrganization),
		Role:           role,
	}
	recs, err := a.ca.AvailableIssuers(r.Context(), requester)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IssuerListResponse{Items: recs})
}

func (a *API) GetCertificate(w http.ResponseWriter, r *http.Request) {
	rec, err := a.ca.GetCertificate(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Record())
}

func (a *API) GetRevocationStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := a.ca.GetCertificate(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	revoked, err := a.ca.IsRevoked(r.Context(), rec.SerialNumber)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevocationStatusResponse{SerialNumber: rec.SerialNumber, Revoked: revoked})
}

// GetChainStatus reports whether the certificate chains to a trusted root.
// A broken chain is a normal answer, not an error.
func (a *API) GetChainStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := a.ca.GetCertificate(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	resp := ChainStatusResponse{SerialNumber: rec.SerialNumber, Valid: true}
	if err := a.ca.VerifyChain(r.Context(), rec.SerialNumber); err != nil {
		if !errors.Is(err, pki.ErrChainValidation) {
			a.mapError(w, r, err)
			return
		}
		resp.Valid = false
		resp.Reason = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) ListRevocations(w http.ResponseWriter, r *http.Request) {
	issuerDN, err := pki.CanonicalDN(r.URL.Query().Get("issuerDn"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	all, err := a.ca.RevokedCertificates(r.Context(), issuerDN)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	items, meta := page(r, all)
	writeJSON(w, http.StatusOK, RevocationListResponse{IssuerDN: issuerDN, Items: items, PaginationMeta: meta})
}
