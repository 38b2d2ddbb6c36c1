package main

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filings-ingest/registry"
)

// fakeAdapter is a scriptable registry adapter for orchestration tests.
type fakeAdapter struct {
	exports   map[string]string // service|from|to -> delimited text
	exportErr map[string]error
	search    map[string][]registry.FilingRecord // day -> page
	searchErr map[string]error
	docErr    map[string]error // url -> error
	docCalls  int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) ExportTable(ctx context.Context, p registry.ExportParams) (*registry.Table, error) {
	key := p.Service + "|" + p.FromDate + "|" + p.ToDate
	if err := f.exportErr[key]; err != nil {
		return nil, err
	}
	text, ok := f.exports[key]
	if !ok {
		return nil, fmt.Errorf("unexpected export %s", key)
	}
	return registry.ParseTable(strings.NewReader(text))
}

func (f *fakeAdapter) SearchFilings(ctx context.Context, p registry.SearchParams) ([]registry.FilingRecord, error) {
	if err := f.searchErr[p.FromDate]; err != nil {
		return nil, err
	}
	return f.search[p.FromDate], nil
}

func (f *fakeAdapter) FetchDocument(ctx context.Context, url string) ([]byte, error) {
	f.docCalls++
	if err := f.docErr[url]; err != nil {
		return nil, err
	}
	return []byte("doc " + url), nil
}

// memorySink keeps rows by natural key so tests can assert converged state.
type memorySink struct {
	issuers map[string]Issuer
	rules   map[string]DocumentTypeRule
	filings map[string]Filing
	content map[string][]byte
}

func newMemorySink() *memorySink {
	return &memorySink{
		issuers: map[string]Issuer{},
		rules:   map[string]DocumentTypeRule{},
		filings: map[string]Filing{},
		content: map[string][]byte{},
	}
}

func (s *memorySink) UpsertIssuers(ctx context.Context, rows []Issuer) UpsertResult {
	for _, r := range rows {
		s.issuers[r.IssuerNo] = r
	}
	return upsertOK()
}

func (s *memorySink) UpsertDocumentTypeRules(ctx context.Context, rows []DocumentTypeRule) UpsertResult {
	for _, r := range rows {
		s.rules[r.FilingCategory+"|"+r.FilingType+"|"+r.DocumentType] = r
	}
	return upsertOK()
}

func (s *memorySink) UpsertFilings(ctx context.Context, rows []Filing) UpsertResult {
	for _, r := range rows {
		s.filings[r.DocumentGUID] = r
	}
	return upsertOK()
}

func (s *memorySink) UpsertFilingContent(ctx context.Context, f Filing, content []byte) UpsertResult {
	if f.DocumentGUID == "" {
		return UpsertResult{Err: &ValidationError{Field: "document_guid"}}
	}
	s.filings[f.DocumentGUID] = f
	s.content[f.DocumentGUID] = content
	return upsertOK()
}

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestCollector(t *testing.T, adapter registry.Adapter, sink Sink) *Collector {
	t.Helper()
	store, err := newDiskStore(t.TempDir())
	require.NoError(t, err)
	cfg := config{
		locale:   "en",
		pageSize: 100,
		cacheDir: t.TempDir(),
	}
	c := newCollector(cfg, adapter, sink, store)
	c.now = func() time.Time { return testNow }
	return c
}

func validRecord(day string, i int) registry.FilingRecord {
	guid := fmt.Sprintf("guid-%s-%d", day, i)
	return registry.FilingRecord{
		DocumentGUID: guid,
		IssuerNo:     "00001234",
		FilingType:   "News Release",
		DocumentType: "News Release",
		FiledDate:    day,
		SizeBytes:    1024,
		URL:          "https://reg.invalid/doc/" + guid,
	}
}

const filingExportHeader = "Issuer Number,Document GUID,Filing Type,Document Type,Date Filed,Generate URL,Size\n"

func TestReferenceRefresh_EndToEnd(t *testing.T) {
	fa := &fakeAdapter{
		exports: map[string]string{
			"reportingIssuers||": "Issuer Number,Name,Jurisdiction(s),Type,In Default Flag,Active CTO Flag\n" +
				"00000001,Alpha Mining,Ontario,Other Issuer,No,No\n" +
				"00000002,Beta Energy,\"Alberta, BC\",Other Issuer,Yes,No\n" +
				"00000003,Gamma Ltd,Quebec,Investment Fund,No,Yes\n",
			"documentTypes||": "Filing Category,Filing Type,Document Type,Access Level\n" +
				"Continuous Disclosure,Annual Report,Annual Report,Public\n" +
				"Securities Offerings,Prospectus,Prospectus,Public\n",
		},
	}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep := c.RunReferenceRefresh(context.Background())

	assert.True(t, rep.IssuersRefreshed)
	assert.True(t, rep.DocTypesRefreshed)
	assert.Equal(t, 3, rep.IssuersUpserted)
	assert.Equal(t, 2, rep.DocTypeRulesUpserted)
	assert.Empty(t, rep.Errors)

	require.Len(t, sink.issuers, 3)
	assert.True(t, sink.issuers["00000002"].InDefault)
	assert.True(t, sink.issuers["00000003"].ActiveCTO)
	assert.Len(t, sink.rules, 2)
}

func TestReferenceRefresh_SubStepFailureIsolated(t *testing.T) {
	fa := &fakeAdapter{
		exports: map[string]string{
			"documentTypes||": "Filing Category,Filing Type,Document Type,Access Level\n" +
				"Continuous Disclosure,Annual Report,Annual Report,Public\n",
		},
		exportErr: map[string]error{
			"reportingIssuers||": fmt.Errorf("export down"),
		},
	}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep := c.RunReferenceRefresh(context.Background())

	assert.False(t, rep.IssuersRefreshed)
	assert.True(t, rep.DocTypesRefreshed)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "issuers")
	assert.Len(t, sink.rules, 1)
}

func TestIncrementalSweep_EndToEnd(t *testing.T) {
	day1 := testNow.Format(dateLayout)                   // 2024-05-10
	day2 := testNow.AddDate(0, 0, -1).Format(dateLayout) // 2024-05-09

	recs := make([]registry.FilingRecord, 5)
	for i := range recs {
		recs[i] = validRecord(day1, i)
	}
	fa := &fakeAdapter{search: map[string][]registry.FilingRecord{day1: recs, day2: nil}}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep := c.RunIncrementalSweep(context.Background(), 2)

	assert.Equal(t, 5, rep.TotalFilingsRetrieved)
	assert.Equal(t, 5, rep.TotalPDFsDownloaded)
	assert.Equal(t, 5, rep.TotalFilingsInserted)
	assert.Empty(t, rep.Errors)
	assert.Len(t, sink.filings, 5)
	assert.Len(t, sink.content, 5)
}

func TestIncrementalSweep_Idempotent(t *testing.T) {
	day := testNow.Format(dateLayout)
	recs := []registry.FilingRecord{validRecord(day, 0), validRecord(day, 1)}
	fa := &fakeAdapter{search: map[string][]registry.FilingRecord{day: recs}}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	first := c.RunIncrementalSweep(context.Background(), 1)
	require.Empty(t, first.Errors)
	require.Len(t, sink.filings, 2)
	callsAfterFirst := fa.docCalls

	second := c.RunIncrementalSweep(context.Background(), 1)

	// Same source data converges to the same persisted state: no duplicate
	// rows and no repeat downloads.
	assert.Empty(t, second.Errors)
	assert.Len(t, sink.filings, 2)
	assert.Equal(t, callsAfterFirst, fa.docCalls)
	assert.Equal(t, 2, second.DocumentsCached)
	assert.Zero(t, second.TotalPDFsDownloaded)
	assert.Equal(t, 2, second.TotalFilingsInserted)
}

func TestIncrementalSweep_MissingFieldsSkippedNotAborted(t *testing.T) {
	day := testNow.Format(dateLayout)
	noGUID := validRecord(day, 1)
	noGUID.DocumentGUID = ""
	noURL := validRecord(day, 2)
	noURL.URL = ""
	recs := []registry.FilingRecord{noGUID, noURL, validRecord(day, 3)}

	fa := &fakeAdapter{search: map[string][]registry.FilingRecord{day: recs}}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep := c.RunIncrementalSweep(context.Background(), 1)

	assert.Equal(t, 3, rep.TotalFilingsRetrieved)
	assert.Equal(t, 2, rep.RecordsSkipped)
	assert.Equal(t, 1, rep.TotalFilingsInserted)
	assert.Len(t, rep.Errors, 2)
	assert.Len(t, sink.filings, 1)
}

func TestProcessFiling_Outcomes(t *testing.T) {
	day := testNow.Format(dateLayout)
	good := validRecord(day, 0)
	noGUID := validRecord(day, 1)
	noGUID.DocumentGUID = ""
	broken := validRecord(day, 2)

	fa := &fakeAdapter{docErr: map[string]error{broken.URL: fmt.Errorf("403 forbidden")}}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)
	rep := c.newReport("sweep")

	assert.Equal(t, itemPersisted, c.processFiling(context.Background(), good, rep))
	assert.Equal(t, itemSkipped, c.processFiling(context.Background(), noGUID, rep))
	assert.Equal(t, itemFailed, c.processFiling(context.Background(), broken, rep))

	assert.Equal(t, 1, rep.TotalFilingsInserted)
	assert.Equal(t, 1, rep.RecordsSkipped)
	assert.Len(t, rep.Errors, 2)
}

func TestIncrementalSweep_DayFailureIsolated(t *testing.T) {
	day1 := testNow.Format(dateLayout)
	day2 := testNow.AddDate(0, 0, -1).Format(dateLayout)
	fa := &fakeAdapter{
		search:    map[string][]registry.FilingRecord{day2: {validRecord(day2, 0)}},
		searchErr: map[string]error{day1: fmt.Errorf("search down")},
	}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep := c.RunIncrementalSweep(context.Background(), 2)

	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "day "+day1)
	assert.Equal(t, 1, rep.TotalFilingsInserted)
}

func TestRunFull_RefreshThenSweepInOneReport(t *testing.T) {
	day := testNow.Format(dateLayout)
	fa := &fakeAdapter{
		exports: map[string]string{
			"reportingIssuers||": "Issuer Number,Name\n00000001,Alpha Mining\n",
			"documentTypes||": "Filing Category,Filing Type,Document Type,Access Level\n" +
				"Continuous Disclosure,Annual Report,Annual Report,Public\n",
		},
		search: map[string][]registry.FilingRecord{day: {validRecord(day, 0)}},
	}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep := c.RunFull(context.Background(), 1)

	assert.Equal(t, "full", rep.Mode)
	assert.True(t, rep.IssuersRefreshed)
	assert.True(t, rep.DocTypesRefreshed)
	assert.Equal(t, 1, rep.TotalFilingsInserted)
	assert.Empty(t, rep.Errors)
}

func TestHistoricalBackfill_EndToEnd(t *testing.T) {
	// 65-day range with 30-day chunks: 30/30/5.
	row := func(guid string) string {
		return fmt.Sprintf("00001234,%s,News Release,News Release,2024-01-15,https://reg.invalid/doc/%s,1024\n", guid, guid)
	}
	fa := &fakeAdapter{
		exports: map[string]string{
			"searchDocuments|2024-01-01|2024-01-30": filingExportHeader + row("bf-1") + row("bf-2"),
			"searchDocuments|2024-03-01|2024-03-05": filingExportHeader + row("bf-3"),
		},
		exportErr: map[string]error{
			"searchDocuments|2024-01-31|2024-02-29": fmt.Errorf("export down"),
		},
	}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep, err := c.RunHistoricalBackfill(context.Background(), "2024-01-01", "2024-03-05", 30)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.ChunksProcessed)
	assert.Equal(t, 3, rep.TotalFilingsRetrieved)
	assert.Equal(t, 3, rep.TotalFilingsInserted)
	assert.Equal(t, 3, rep.TotalPDFsDownloaded)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "chunk 2024-01-31 to 2024-02-29")
	assert.Len(t, sink.filings, 3)
}

func TestHistoricalBackfill_BadRowsSkipped(t *testing.T) {
	fa := &fakeAdapter{
		exports: map[string]string{
			"searchDocuments|2024-01-01|2024-01-02": filingExportHeader +
				"00001234,,News Release,News Release,2024-01-01,https://reg.invalid/doc/x,512\n" +
				"00001234,bf-ok,News Release,News Release,2024-01-01,https://reg.invalid/doc/bf-ok,512\n",
		},
	}
	sink := newMemorySink()
	c := newTestCollector(t, fa, sink)

	rep, err := c.RunHistoricalBackfill(context.Background(), "2024-01-01", "2024-01-02", 30)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.RecordsSkipped)
	assert.Equal(t, 1, rep.TotalFilingsRetrieved)
	assert.Len(t, sink.filings, 1)
}

func TestHistoricalBackfill_InvalidDatesFatal(t *testing.T) {
	c := newTestCollector(t, &fakeAdapter{}, newMemorySink())

	_, err := c.RunHistoricalBackfill(context.Background(), "not-a-date", "2024-01-02", 30)
	assert.Error(t, err)

	_, err = c.RunHistoricalBackfill(context.Background(), "2024-01-02", "2024-01-01", 30)
	assert.Error(t, err)
}
