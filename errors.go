package main

import "fmt"

// ValidationError marks a record missing a mandatory field. Raised before
// any network or persistence I/O is attempted for the record.
type ValidationError struct {
	Field string
	GUID  string
}

func (e *ValidationError) Error() string {
	if e.GUID == "" {
		return fmt.Sprintf("record missing %s", e.Field)
	}
	return fmt.Sprintf("record %s missing %s", e.GUID, e.Field)
}

// DownloadError is a per-document content retrieval failure. The enclosing
// loop records it and moves on.
type DownloadError struct {
	GUID string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.GUID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// PersistError is a backend upsert failure for one batch of rows.
type PersistError struct {
	Kind string // issuers | filings | doc_type_rules | filing_content
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Kind, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func missingColumn(col string) error {
	return fmt.Errorf("missing column %q", col)
}
