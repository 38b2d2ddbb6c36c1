// Package registry contains pluggable connectors for the remote filings
// registry.
//
// The registry exposes two retrieval shapes: a tabular export service that
// returns delimited text for a named service and query arguments, and a JSON
// search service that returns one page of structured filing results. Both are
// abstracted behind the Adapter interface so the ingest job can run against a
// fully offline mock for demos and tests.
package registry

import (
	"context"
	"fmt"
)

// Service names accepted by the tabular export endpoint.
const (
	ServiceReportingIssuers = "reportingIssuers"
	ServiceSearchDocuments  = "searchDocuments"
	ServiceDocumentTypes    = "documentTypes"
)

// ExportParams describes one tabular export request.
type ExportParams struct {
	Service  string
	Locale   string
	FromDate string // YYYY-MM-DD, optional
	ToDate   string // YYYY-MM-DD, optional
	Start    int
	PageSize int
}

// SearchParams describes one page of the JSON search service. Results are
// sorted by filed date, most recent first.
type SearchParams struct {
	Locale   string
	FromDate string // YYYY-MM-DD
	ToDate   string // YYYY-MM-DD
	Start    int
	PageSize int
}

// FilingRecord is a normalized search result. URL may be empty when the
// source provides no direct link; networked adapters synthesize one from the
// document GUID before returning.
type FilingRecord struct {
	DocumentGUID string `json:"document_guid"`
	IssuerNo     string `json:"issuer_no"`
	FilingType   string `json:"filing_type"`
	DocumentType string `json:"document_type"`
	FiledDate    string `json:"filed_date"`
	SizeBytes    int64  `json:"size_bytes"`
	URL          string `json:"url"`
}

// Adapter abstracts all registry-specific logic.
//
// Template adapters:
//   - mock: deterministic synthetic data, no network calls
//   - http: talks to a registry under REGISTRY_BASE_URL
type Adapter interface {
	Name() string

	// ExportTable requests a full tabular export and parses it into a Table.
	ExportTable(ctx context.Context, params ExportParams) (*Table, error)

	// SearchFilings returns one page of filing records for a date range,
	// sorted by filed date descending.
	SearchFilings(ctx context.Context, params SearchParams) ([]FilingRecord, error)

	// FetchDocument retrieves the binary payload behind a filing URL. The
	// body is read fully before returning, so callers never see a partial
	// document.
	FetchDocument(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports a response that arrived but could not be parsed into
// the expected tabular or JSON shape.
type FetchError struct {
	Service string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Service, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
