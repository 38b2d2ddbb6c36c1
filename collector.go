package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"filings-ingest/registry"
)

const dateLayout = "2006-01-02"

// itemOutcome is the explicit per-filing result threaded through the ingest
// loops instead of catch-and-continue error handling.
type itemOutcome int

const (
	itemPersisted itemOutcome = iota
	itemSkipped               // mandatory field missing; counted, never aborts
	itemFailed                // download or persistence failed for this item
)

// Collector drives ingestion runs against the registry adapter and the sink.
// All dependencies are injected at construction; there is no ambient client
// state. Execution is deliberately single-threaded: the adapter's transport
// already serializes outbound calls, so at most one request is in flight at
// any instant.
type Collector struct {
	cfg     config
	adapter registry.Adapter
	sink    Sink
	content *contentFetcher
	cache   *exportCache
	now     func() time.Time
}

func newCollector(cfg config, adapter registry.Adapter, sink Sink, store DocumentStore) *Collector {
	return &Collector{
		cfg:     cfg,
		adapter: adapter,
		sink:    sink,
		content: &contentFetcher{
			adapter: adapter,
			store:   store,
			timeout: time.Duration(cfg.downloadTimeoutSec) * time.Second,
		},
		cache: &exportCache{dir: cfg.cacheDir},
		now:   time.Now,
	}
}

// ───────── Reference refresh ─────────

// RunReferenceRefresh pulls the issuer roster and the document-type
// inventory and upserts both. Each sub-step's failure is recorded in the
// report and does not stop the other.
func (c *Collector) RunReferenceRefresh(ctx context.Context) *RunReport {
	rep := c.newReport("refresh")
	c.refreshInto(ctx, rep)
	c.finishReport(rep)
	return rep
}

func (c *Collector) refreshInto(ctx context.Context, rep *RunReport) {
	if issuers, err := c.fetchIssuers(ctx); err != nil {
		rep.addError("issuers: %v", err)
	} else if res := c.sink.UpsertIssuers(ctx, issuers); res.Err != nil {
		rep.addError("issuers: %v", res.Err)
	} else {
		rep.IssuersRefreshed = true
		rep.IssuersUpserted = len(issuers)
		log.Printf("upserted %d issuers", len(issuers))
	}

	if rules, err := c.fetchDocTypeRules(ctx); err != nil {
		rep.addError("doc types: %v", err)
	} else if res := c.sink.UpsertDocumentTypeRules(ctx, rules); res.Err != nil {
		rep.addError("doc types: %v", res.Err)
	} else {
		rep.DocTypesRefreshed = true
		rep.DocTypeRulesUpserted = len(rules)
		log.Printf("upserted %d document type rules", len(rules))
	}
}

func (c *Collector) fetchIssuers(ctx context.Context) ([]Issuer, error) {
	t, err := c.adapter.ExportTable(ctx, registry.ExportParams{
		Service:  registry.ServiceReportingIssuers,
		Locale:   c.cfg.locale,
		PageSize: c.cfg.rosterPageSize,
	})
	if err != nil {
		return nil, err
	}
	c.cache.putTable("issuers_"+c.now().UTC().Format("20060102")+".csv", t)
	return issuersFromTable(t)
}

func (c *Collector) fetchDocTypeRules(ctx context.Context) ([]DocumentTypeRule, error) {
	t, err := c.adapter.ExportTable(ctx, registry.ExportParams{
		Service: registry.ServiceDocumentTypes,
		Locale:  c.cfg.locale,
	})
	if err != nil {
		return nil, err
	}
	c.cache.putTable("doc_types_"+c.now().UTC().Format("20060102")+".csv", t)
	return docTypeRulesFromTable(t)
}

// ───────── Incremental sweep ─────────

// RunIncrementalSweep processes the last daysBack days one day at a time,
// most recent first. Days are independent units of work: one bad day is
// recorded and the sweep moves on.
func (c *Collector) RunIncrementalSweep(ctx context.Context, daysBack int) *RunReport {
	rep := c.newReport("sweep")
	c.sweepInto(ctx, daysBack, rep)
	c.finishReport(rep)
	return rep
}

// RunFull is the combined operational flow: reference refresh, then an
// incremental sweep, reported as a single run.
func (c *Collector) RunFull(ctx context.Context, daysBack int) *RunReport {
	rep := c.newReport("full")
	c.refreshInto(ctx, rep)
	c.sweepInto(ctx, daysBack, rep)
	c.finishReport(rep)
	return rep
}

func (c *Collector) sweepInto(ctx context.Context, daysBack int, rep *RunReport) {
	if daysBack <= 0 {
		daysBack = 1
	}
	today := c.now().UTC()
	for i := 0; i < daysBack; i++ {
		day := today.AddDate(0, 0, -i).Format(dateLayout)
		if err := c.sweepDay(ctx, day, rep); err != nil {
			rep.addError("day %s: %v", day, err)
		}
	}
}

func (c *Collector) sweepDay(ctx context.Context, day string, rep *RunReport) error {
	recs, err := c.adapter.SearchFilings(ctx, registry.SearchParams{
		Locale:   c.cfg.locale,
		FromDate: day,
		ToDate:   day,
		PageSize: c.cfg.pageSize,
	})
	if err != nil {
		return err
	}
	c.cache.putJSON("filings_page_"+day+".json", recs)
	rep.TotalFilingsRetrieved += len(recs)
	if len(recs) == 0 {
		return nil
	}
	log.Printf("day %s: %d filings", day, len(recs))

	var stored, skipped, failed int
	for _, rec := range recs {
		switch c.processFiling(ctx, rec, rep) {
		case itemPersisted:
			stored++
		case itemSkipped:
			skipped++
		case itemFailed:
			failed++
		}
	}
	log.Printf("day %s: %d stored, %d skipped, %d failed", day, stored, skipped, failed)
	return nil
}

// processFiling validates, fetches content, and persists one filing.
func (c *Collector) processFiling(ctx context.Context, rec registry.FilingRecord, rep *RunReport) itemOutcome {
	f, err := filingFromRecord(rec)
	if err != nil {
		rep.RecordsSkipped++
		rep.addError("%v", err)
		return itemSkipped
	}

	res, err := c.content.Fetch(ctx, f.URL, f.DocumentGUID)
	if err != nil {
		rep.addError("%v", err)
		return itemFailed
	}

	var up UpsertResult
	if res.Cached {
		rep.DocumentsCached++
		up = c.sink.UpsertFilings(ctx, []Filing{f})
	} else {
		rep.TotalPDFsDownloaded++
		up = c.sink.UpsertFilingContent(ctx, f, res.Data)
	}
	if up.Err != nil {
		rep.addError("filing %s: %v", f.DocumentGUID, up.Err)
		return itemFailed
	}
	rep.TotalFilingsInserted++
	return itemPersisted
}

// ───────── Historical backfill ─────────

// dateChunk is one closed-closed slice of a backfill range.
type dateChunk struct {
	From time.Time
	To   time.Time
}

// chunkRange partitions [start, end] into consecutive chunks of chunkDays
// days, last chunk truncated at end. Chunk N+1 starts the day after chunk N
// ends, so the chunks are contiguous, non-overlapping, and cover the range
// exactly.
func chunkRange(start, end time.Time, chunkDays int) []dateChunk {
	if chunkDays <= 0 {
		chunkDays = 30
	}
	var out []dateChunk
	for cur := start; !cur.After(end); {
		chunkEnd := cur.AddDate(0, 0, chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		out = append(out, dateChunk{From: cur, To: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return out
}

// RunHistoricalBackfill ingests a large date range chunk by chunk. Chunks
// are independent units of work; a failed chunk is recorded and the rest
// still run. The returned error is non-nil only for failures before any
// unit of work begins (unparsable dates).
func (c *Collector) RunHistoricalBackfill(ctx context.Context, startDate, endDate string, chunkDays int) (*RunReport, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("end date: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}

	rep := c.newReport("backfill")
	for _, ch := range chunkRange(start, end, chunkDays) {
		from, to := ch.From.Format(dateLayout), ch.To.Format(dateLayout)
		log.Printf("processing chunk %s to %s", from, to)
		if err := c.backfillChunk(ctx, from, to, rep); err != nil {
			rep.addError("chunk %s to %s: %v", from, to, err)
		}
		rep.ChunksProcessed++
	}

	c.finishReport(rep)
	return rep, nil
}

func (c *Collector) backfillChunk(ctx context.Context, from, to string, rep *RunReport) error {
	t, err := c.adapter.ExportTable(ctx, registry.ExportParams{
		Service:  registry.ServiceSearchDocuments,
		Locale:   c.cfg.locale,
		FromDate: from,
		ToDate:   to,
		PageSize: c.cfg.pageSize,
	})
	if err != nil {
		return err
	}
	c.cache.putTable("filings_"+from+"_"+to+".csv", t)

	filings, badRows, err := filingsFromTable(t)
	if err != nil {
		return err
	}
	for _, rowErr := range badRows {
		rep.RecordsSkipped++
		rep.addError("%v", rowErr)
	}
	rep.TotalFilingsRetrieved += len(filings)
	if len(filings) == 0 {
		return nil
	}

	if res := c.sink.UpsertFilings(ctx, filings); res.Err != nil {
		rep.addError("chunk %s to %s: %v", from, to, res.Err)
	} else {
		rep.TotalFilingsInserted += len(filings)
	}

	c.downloadBatch(ctx, filings, rep)
	return nil
}

// downloadBatch retrieves documents one by one, skip-if-stored, tallying
// success and failure. Deliberately sequential: the transport's fixed
// inter-request delay would serialize concurrent workers anyway.
func (c *Collector) downloadBatch(ctx context.Context, filings []Filing, rep *RunReport) {
	var stored, failed int
	for i, f := range filings {
		res, err := c.content.Fetch(ctx, f.URL, f.DocumentGUID)
		switch {
		case err != nil:
			failed++
			rep.addError("%v", err)
		case res.Cached:
			stored++
			rep.DocumentsCached++
		default:
			stored++
			rep.TotalPDFsDownloaded++
		}
		if c.cfg.progressEvery > 0 && (i+1)%c.cfg.progressEvery == 0 {
			log.Printf("progress: %d/%d documents processed", i+1, len(filings))
		}
	}
	log.Printf("downloads: %d stored, %d failed", stored, failed)
}
