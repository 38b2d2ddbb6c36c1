package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UpsertResult is the uniform outcome of every sink call, independent of the
// backend client in use.
type UpsertResult struct {
	OK  bool
	Err error
}

func upsertOK() UpsertResult { return UpsertResult{OK: true} }

func upsertFailed(kind string, err error) UpsertResult {
	return UpsertResult{Err: &PersistError{Kind: kind, Err: err}}
}

// Sink persists normalized rows with insert-or-update semantics keyed by
// each entity's natural key.
type Sink interface {
	UpsertIssuers(ctx context.Context, rows []Issuer) UpsertResult
	UpsertDocumentTypeRules(ctx context.Context, rows []DocumentTypeRule) UpsertResult
	UpsertFilings(ctx context.Context, rows []Filing) UpsertResult

	// UpsertFilingContent upserts one filing including its binary payload.
	// It fails with a ValidationError before any I/O when the GUID is empty.
	UpsertFilingContent(ctx context.Context, f Filing, content []byte) UpsertResult
}

// ───────── Postgres sink ─────────

// PGSink writes to Postgres via batched ON CONFLICT upserts.
type PGSink struct {
	pool   *pgxpool.Pool
	schema string
	batch  int
	now    func() time.Time
}

func openPGSink(ctx context.Context, cfg config) (*PGSink, error) {
	pc, err := pgxpool.ParseConfig(cfg.pgDSN)
	if err != nil {
		return nil, fmt.Errorf("PG_DSN parse: %w", err)
	}
	maxConns := cfg.pgMaxConns
	if maxConns <= 0 {
		maxConns = 2
	}
	pc.MaxConns = int32(maxConns)
	if cfg.pgViaBouncer {
		pc.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("PG connect: %w", err)
	}
	batch := cfg.pgBatch
	if batch <= 0 {
		batch = 200
	}
	return &PGSink{pool: pool, schema: cfg.pgSchema, batch: batch, now: time.Now}, nil
}

func (s *PGSink) Close() { s.pool.Close() }

func (s *PGSink) UpsertIssuers(ctx context.Context, rows []Issuer) UpsertResult {
	if len(rows) == 0 {
		return upsertOK()
	}
	sql := fmt.Sprintf(
		`INSERT INTO "%s".dim_issuer (issuer_no, name, jurisdiction, issuer_type, in_default, active_cto, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (issuer_no) DO UPDATE SET
		   name = EXCLUDED.name,
		   jurisdiction = EXCLUDED.jurisdiction,
		   issuer_type = EXCLUDED.issuer_type,
		   in_default = EXCLUDED.in_default,
		   active_cto = EXCLUDED.active_cto,
		   updated_at = EXCLUDED.updated_at`,
		s.schema,
	)
	now := s.now().UTC()
	err := s.sendBatches(ctx, len(rows), func(b *pgx.Batch, i int) {
		r := rows[i]
		b.Queue(sql, r.IssuerNo, r.Name, r.Jurisdiction, r.IssuerType, r.InDefault, r.ActiveCTO, now)
	})
	if err != nil {
		return upsertFailed("issuers", err)
	}
	return upsertOK()
}

func (s *PGSink) UpsertDocumentTypeRules(ctx context.Context, rows []DocumentTypeRule) UpsertResult {
	if len(rows) == 0 {
		return upsertOK()
	}
	sql := fmt.Sprintf(
		`INSERT INTO "%s".doc_type_rule (filing_category, filing_type, document_type, access_level)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (filing_category, filing_type, document_type) DO UPDATE SET
		   access_level = EXCLUDED.access_level`,
		s.schema,
	)
	err := s.sendBatches(ctx, len(rows), func(b *pgx.Batch, i int) {
		r := rows[i]
		b.Queue(sql, r.FilingCategory, r.FilingType, r.DocumentType, r.AccessLevel)
	})
	if err != nil {
		return upsertFailed("doc_type_rules", err)
	}
	return upsertOK()
}

func (s *PGSink) UpsertFilings(ctx context.Context, rows []Filing) UpsertResult {
	if len(rows) == 0 {
		return upsertOK()
	}
	sql := s.filingUpsertSQL(false)
	now := s.now().UTC()
	err := s.sendBatches(ctx, len(rows), func(b *pgx.Batch, i int) {
		r := rows[i]
		b.Queue(sql, uuid.NewString(), r.IssuerNo, r.DocumentGUID, r.FilingType,
			r.DocumentType, r.FiledDate, r.URL, nullSize(r.SizeBytes), now)
	})
	if err != nil {
		return upsertFailed("filings", err)
	}
	return upsertOK()
}

func (s *PGSink) UpsertFilingContent(ctx context.Context, f Filing, content []byte) UpsertResult {
	if f.DocumentGUID == "" {
		return UpsertResult{Err: &ValidationError{Field: "document_guid"}}
	}
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx, s.filingUpsertSQL(true),
		uuid.NewString(), f.IssuerNo, f.DocumentGUID, f.FilingType,
		f.DocumentType, f.FiledDate, f.URL, nullSize(f.SizeBytes), now, content)
	if err != nil {
		return upsertFailed("filing_content", err)
	}
	return upsertOK()
}

// filingUpsertSQL is the single conflict path for fact_filing: document_guid
// is the sole conflict key, non-key fields are last-write-wins, and
// filing_id/created_at stay from the first observation.
func (s *PGSink) filingUpsertSQL(withContent bool) string {
	cols := "filing_id, issuer_no, document_guid, filing_type, document_type, submitted_date, url, size_bytes, created_at"
	vals := "$1,$2,$3,$4,$5,$6,$7,$8,$9"
	set := `issuer_no = EXCLUDED.issuer_no,
		   filing_type = EXCLUDED.filing_type,
		   document_type = EXCLUDED.document_type,
		   submitted_date = EXCLUDED.submitted_date,
		   url = EXCLUDED.url,
		   size_bytes = EXCLUDED.size_bytes`
	if withContent {
		cols += ", content"
		vals += ",$10"
		set += ",\n\t\t   content = EXCLUDED.content"
	}
	return fmt.Sprintf(
		`INSERT INTO "%s".fact_filing (%s)
		 VALUES (%s)
		 ON CONFLICT (document_guid) DO UPDATE SET
		   %s`,
		s.schema, cols, vals, set,
	)
}

func (s *PGSink) sendBatches(ctx context.Context, n int, queue func(b *pgx.Batch, i int)) error {
	for i := 0; i < n; i += s.batch {
		j := i + s.batch
		if j > n {
			j = n
		}
		b := &pgx.Batch{}
		for k := i; k < j; k++ {
			queue(b, k)
		}
		br := s.pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}
	return nil
}

func nullSize(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}

// ───────── CSV fallback sink ─────────

// CSVSink is the degraded mode used when no backend is configured: the same
// rows are appended to local CSV files under the cache dir and the call
// reports success, so the ingest logic stays runnable without a live store.
type CSVSink struct {
	dir string
}

func newCSVSink(dir string) *CSVSink { return &CSVSink{dir: dir} }

func (s *CSVSink) UpsertIssuers(ctx context.Context, rows []Issuer) UpsertResult {
	header := []string{"issuer_no", "name", "jurisdiction", "issuer_type", "in_default", "active_cto"}
	recs := make([][]string, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, []string{
			r.IssuerNo, r.Name, r.Jurisdiction, r.IssuerType,
			strconv.FormatBool(r.InDefault), strconv.FormatBool(r.ActiveCTO),
		})
	}
	if err := s.append("issuers_processed.csv", header, recs); err != nil {
		return upsertFailed("issuers", err)
	}
	return upsertOK()
}

func (s *CSVSink) UpsertDocumentTypeRules(ctx context.Context, rows []DocumentTypeRule) UpsertResult {
	header := []string{"filing_category", "filing_type", "document_type", "access_level"}
	recs := make([][]string, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, []string{r.FilingCategory, r.FilingType, r.DocumentType, r.AccessLevel})
	}
	if err := s.append("doc_type_rules_processed.csv", header, recs); err != nil {
		return upsertFailed("doc_type_rules", err)
	}
	return upsertOK()
}

func (s *CSVSink) UpsertFilings(ctx context.Context, rows []Filing) UpsertResult {
	recs := make([][]string, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, filingCSVRecord(r, false))
	}
	if err := s.append("filings_processed.csv", filingCSVHeader, recs); err != nil {
		return upsertFailed("filings", err)
	}
	return upsertOK()
}

func (s *CSVSink) UpsertFilingContent(ctx context.Context, f Filing, content []byte) UpsertResult {
	if f.DocumentGUID == "" {
		return UpsertResult{Err: &ValidationError{Field: "document_guid"}}
	}
	// The payload itself lives in the document store; the CSV row records
	// that content was captured.
	if err := s.append("filings_processed.csv", filingCSVHeader, [][]string{filingCSVRecord(f, true)}); err != nil {
		return upsertFailed("filing_content", err)
	}
	return upsertOK()
}

var filingCSVHeader = []string{
	"document_guid", "issuer_no", "filing_type", "document_type",
	"submitted_date", "url", "size_bytes", "has_content",
}

func filingCSVRecord(f Filing, hasContent bool) []string {
	return []string{
		f.DocumentGUID, f.IssuerNo, f.FilingType, f.DocumentType,
		f.FiledDate, f.URL, strconv.FormatInt(f.SizeBytes, 10),
		strconv.FormatBool(hasContent),
	}
}

func (s *CSVSink) append(name string, header []string, recs [][]string) error {
	if len(recs) == 0 {
		return nil
	}
	path := filepath.Join(s.dir, name)
	if err := ensureCSVHeader(path, header); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func ensureCSVHeader(path string, header []string) error {
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
