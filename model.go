package main

import (
	"strings"

	"filings-ingest/registry"
)

// Column names of the registry's tabular exports.
const (
	colIssuerNo     = "Issuer Number"
	colIssuerName   = "Name"
	colJurisdiction = "Jurisdiction(s)"
	colIssuerType   = "Type"
	colInDefault    = "In Default Flag"
	colActiveCTO    = "Active CTO Flag"

	colDocumentGUID = "Document GUID"
	colFilingType   = "Filing Type"
	colDocumentType = "Document Type"
	colDateFiled    = "Date Filed"
	colGenerateURL  = "Generate URL"
	colSize         = "Size"

	colFilingCategory = "Filing Category"
	colAccessLevel    = "Access Level"
)

// Issuer is one reporting issuer, keyed by issuer number. The roster is
// refreshed wholesale on each reference run and never deleted from.
type Issuer struct {
	IssuerNo     string
	Name         string
	Jurisdiction string
	IssuerType   string
	InDefault    bool
	ActiveCTO    bool
}

// DocumentTypeRule is one row of the document-type reference inventory,
// keyed by (filing category, filing type, document type).
type DocumentTypeRule struct {
	FilingCategory string
	FilingType     string
	DocumentType   string
	AccessLevel    string
}

// Filing is one filed document. DocumentGUID is globally unique and the sole
// conflict key for persistence: re-observing a GUID updates the row in place.
type Filing struct {
	DocumentGUID string
	IssuerNo     string
	FilingType   string
	DocumentType string
	FiledDate    string
	SizeBytes    int64
	URL          string
}

func issuersFromTable(t *registry.Table) ([]Issuer, error) {
	for _, col := range []string{colIssuerNo, colIssuerName} {
		if !t.HasColumn(col) {
			return nil, &registry.FetchError{
				Service: registry.ServiceReportingIssuers,
				Err:     missingColumn(col),
			}
		}
	}
	out := make([]Issuer, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		no := row.Get(colIssuerNo)
		if no == "" {
			continue
		}
		out = append(out, Issuer{
			IssuerNo:     no,
			Name:         row.Get(colIssuerName),
			Jurisdiction: row.Get(colJurisdiction),
			IssuerType:   row.Get(colIssuerType),
			InDefault:    parseFlag(row.Get(colInDefault)),
			ActiveCTO:    parseFlag(row.Get(colActiveCTO)),
		})
	}
	return out, nil
}

func docTypeRulesFromTable(t *registry.Table) ([]DocumentTypeRule, error) {
	for _, col := range []string{colFilingCategory, colFilingType, colDocumentType} {
		if !t.HasColumn(col) {
			return nil, &registry.FetchError{
				Service: registry.ServiceDocumentTypes,
				Err:     missingColumn(col),
			}
		}
	}
	out := make([]DocumentTypeRule, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		r := DocumentTypeRule{
			FilingCategory: row.Get(colFilingCategory),
			FilingType:     row.Get(colFilingType),
			DocumentType:   row.Get(colDocumentType),
			AccessLevel:    row.Get(colAccessLevel),
		}
		if r.FilingCategory == "" && r.FilingType == "" && r.DocumentType == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// filingsFromTable maps export rows into Filings. Rows missing the GUID or
// URL are returned separately as per-row validation failures rather than
// aborting the whole table.
func filingsFromTable(t *registry.Table) ([]Filing, []error, error) {
	for _, col := range []string{colDocumentGUID, colGenerateURL} {
		if !t.HasColumn(col) {
			return nil, nil, &registry.FetchError{
				Service: registry.ServiceSearchDocuments,
				Err:     missingColumn(col),
			}
		}
	}
	var (
		out []Filing
		bad []error
	)
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		f := Filing{
			DocumentGUID: row.Get(colDocumentGUID),
			IssuerNo:     row.Get(colIssuerNo),
			FilingType:   row.Get(colFilingType),
			DocumentType: row.Get(colDocumentType),
			FiledDate:    row.Get(colDateFiled),
			SizeBytes:    parseSize(row.Get(colSize)),
			URL:          row.Get(colGenerateURL),
		}
		if err := f.validate(); err != nil {
			bad = append(bad, err)
			continue
		}
		out = append(out, f)
	}
	return out, bad, nil
}

func filingFromRecord(rec registry.FilingRecord) (Filing, error) {
	f := Filing{
		DocumentGUID: rec.DocumentGUID,
		IssuerNo:     rec.IssuerNo,
		FilingType:   rec.FilingType,
		DocumentType: rec.DocumentType,
		FiledDate:    rec.FiledDate,
		SizeBytes:    rec.SizeBytes,
		URL:          rec.URL,
	}
	return f, f.validate()
}

func (f Filing) validate() error {
	if f.DocumentGUID == "" {
		return &ValidationError{Field: "document_guid", GUID: f.DocumentGUID}
	}
	if f.URL == "" {
		return &ValidationError{Field: "pdf_url", GUID: f.DocumentGUID}
	}
	return nil
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "t", "1":
		return true
	}
	return false
}

func parseSize(v string) int64 {
	var n int64
	for _, r := range v {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
