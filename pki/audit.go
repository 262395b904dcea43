package pki

import (
	"context"
	"slices"
)

// AuditReport lists inconsistencies between metadata and key custody.
type AuditReport struct {
	// MissingKeys are records whose key entry is absent from custody.
	MissingKeys []string `json:"missing_keys"`
	// OrphanKeys are custody entries with no metadata record, left behind
	// when a process stopped between the custody write and the insert.
	OrphanKeys []string `json:"orphan_keys"`
	Checked    int      `json:"checked"`
}

// Clean reports whether the audit found nothing.
func (r *AuditReport) Clean() bool {
	return len(r.MissingKeys) == 0 && len(r.OrphanKeys) == 0
}

// Audit cross-checks every metadata record against custody.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := e.certs.List()
	if err != nil {
		return nil, err
	}

	report := &AuditReport{Checked: len(recs)}
	known := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		known[rec.Type.AliasTag()+"/"+rec.SerialNumber] = true
		ok, err := e.custody.HasKeyEntry(rec.OrganizationID, rec.Type.AliasTag(), rec.SerialNumber)
		if err != nil {
			return nil, custodyError("checking "+rec.SerialNumber, err)
		}
		if !ok {
			report.MissingKeys = append(report.MissingKeys, rec.SerialNumber)
		}
	}

	tags := make([]string, 0, len(CertificateTypes))
	for _, t := range CertificateTypes {
		tags = append(tags, t.AliasTag())
	}
	for _, ref := range e.custody.Entries(tags...) {
		if !known[ref.TypeTag+"/"+ref.Serial] {
			report.OrphanKeys = append(report.OrphanKeys, ref.Serial)
		}
	}
	slices.Sort(report.MissingKeys)
	slices.Sort(report.OrphanKeys)
	return report, nil
}
