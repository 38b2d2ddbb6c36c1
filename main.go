// Regulatory filings ingest job
// -----------------------------
//
// Collects filing records and documents from a remote registry and
// reconciles them into Postgres (or local CSV when no DSN is configured).
// Modes:
//   - refresh:     issuer roster + document-type inventory upsert
//   - sweep:       incremental day-by-day ingest of recent filings
//   - full:        refresh followed by sweep in one run
//   - backfill:    chunked historical ingest over a date range
//   - healthcheck: validate configuration and directories, then exit
//
// Configuration is primarily via environment variables (flags can override):
//   MODE, REGISTRY_BASE_URL, REGISTRY_ADAPTER, REQUEST_DELAY, RETRY_MAX,
//   PAGE_SIZE, DAYS_BACK, FROM_DATE, TO_DATE, CHUNK_DAYS,
//   DOWNLOAD_DIR, CACHE_DIR, GCS_BUCKET, PG_DSN, PG_SCHEMA, ...
//
// All registry-specific logic is behind registry.Adapter; the default
// adapter is the offline-safe mock.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"filings-ingest/registry"
)

type config struct {
	mode string

	// Registry
	baseURL   string
	locale    string
	adapter   string // mock|http
	userAgent string

	// Transport
	requestDelay       float64 // seconds between requests
	retryMax           int
	downloadTimeoutSec int

	// Fetch sizing
	pageSize       int
	rosterPageSize int
	progressEvery  int

	// Run parameters
	daysBack  int
	fromDate  string
	toDate    string
	chunkDays int

	// Local artifacts
	downloadDir string
	cacheDir    string
	gcsBucket   string
	gcsPrefix   string

	// DB (optional; CSV fallback when empty)
	pgDSN        string
	pgSchema     string
	pgBatch      int
	pgMaxConns   int
	pgViaBouncer bool

	jsonLogs bool
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.mode, "mode", envString("MODE", "sweep"), "Run mode: refresh|sweep|full|backfill|healthcheck. Env: MODE")

	flag.StringVar(&cfg.baseURL, "base-url", envString("REGISTRY_BASE_URL", "https://example-registry.invalid"), "Registry base URL. Env: REGISTRY_BASE_URL")
	flag.StringVar(&cfg.locale, "locale", envString("REGISTRY_LOCALE", "en"), "Query locale. Env: REGISTRY_LOCALE")
	flag.StringVar(&cfg.adapter, "registry-adapter", envString("REGISTRY_ADAPTER", "mock"), "Adapter: mock|http. Env: REGISTRY_ADAPTER")
	flag.StringVar(&cfg.userAgent, "user-agent", envString("HTTP_USER_AGENT", "filings-ingest/1.0 (research)"), "Outbound User-Agent. Env: HTTP_USER_AGENT")

	flag.Float64Var(&cfg.requestDelay, "request-delay", envFloat("REQUEST_DELAY", 1.0), "Unconditional delay between requests (seconds). Env: REQUEST_DELAY")
	flag.IntVar(&cfg.retryMax, "retry-max", envInt("RETRY_MAX", 3), "Max retry attempts per request on throttle/5xx. Env: RETRY_MAX")
	flag.IntVar(&cfg.downloadTimeoutSec, "download-timeout-sec", envInt("DOWNLOAD_TIMEOUT_SEC", 60), "Wall-clock timeout per document download. Env: DOWNLOAD_TIMEOUT_SEC")

	flag.IntVar(&cfg.pageSize, "page-size", envInt("PAGE_SIZE", 5000), "Rows per filings export/search page. Env: PAGE_SIZE")
	flag.IntVar(&cfg.rosterPageSize, "roster-page-size", envInt("ROSTER_PAGE_SIZE", 10000), "Rows per issuer roster export. Env: ROSTER_PAGE_SIZE")
	flag.IntVar(&cfg.progressEvery, "progress-every", envInt("PROGRESS_EVERY", 10), "Log progress every N documents during batch download (0 disables). Env: PROGRESS_EVERY")

	flag.IntVar(&cfg.daysBack, "days-back", envInt("DAYS_BACK", 7), "Sweep: number of recent days to process. Env: DAYS_BACK")
	flag.StringVar(&cfg.fromDate, "from", envString("FROM_DATE", ""), "Backfill: start date YYYY-MM-DD. Env: FROM_DATE")
	flag.StringVar(&cfg.toDate, "to", envString("TO_DATE", ""), "Backfill: end date YYYY-MM-DD. Env: TO_DATE")
	flag.IntVar(&cfg.chunkDays, "chunk-days", envInt("CHUNK_DAYS", 30), "Backfill: days per chunk. Env: CHUNK_DAYS")

	flag.StringVar(&cfg.downloadDir, "download-dir", envString("DOWNLOAD_DIR", "./data/pdfs"), "Document download directory. Env: DOWNLOAD_DIR")
	flag.StringVar(&cfg.cacheDir, "cache-dir", envString("CACHE_DIR", "./data/cache"), "Raw export cache / report directory. Env: CACHE_DIR")
	flag.StringVar(&cfg.gcsBucket, "gcs-bucket", envString("GCS_BUCKET", ""), "Optional GCS bucket for documents (replaces local disk). Env: GCS_BUCKET")
	flag.StringVar(&cfg.gcsPrefix, "gcs-prefix", envString("GCS_PREFIX", "pdfs/"), "Object prefix inside the GCS bucket. Env: GCS_PREFIX")

	flag.StringVar(&cfg.pgDSN, "pg-dsn", envString("PG_DSN", ""), "Postgres DSN (enables DB mode; CSV fallback when empty). Env: PG_DSN")
	flag.StringVar(&cfg.pgSchema, "pg-schema", envString("PG_SCHEMA", "public"), "Target Postgres schema. Env: PG_SCHEMA")
	flag.IntVar(&cfg.pgBatch, "pg-batch", envInt("PG_BATCH", 200), "DB upsert batch size. Env: PG_BATCH")
	flag.IntVar(&cfg.pgMaxConns, "pg-max-conns", envInt("PG_MAX_CONNS", 2), "DB max connections. Env: PG_MAX_CONNS")
	flag.BoolVar(&cfg.pgViaBouncer, "pg-via-bouncer", envBool("PG_VIA_BOUNCER", true), "Use simple protocol for PgBouncer txn pooling. Env: PG_VIA_BOUNCER")

	flag.BoolVar(&cfg.jsonLogs, "json-logs", envBool("JSON_LOGS", true), "Emit a JSON summary line. Env: JSON_LOGS")

	flag.Parse()

	switch cfg.mode {
	case "refresh", "sweep", "full", "backfill", "healthcheck":
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", cfg.mode)
		os.Exit(2)
	}
	if cfg.mode == "backfill" && (cfg.fromDate == "" || cfg.toDate == "") {
		fmt.Fprintln(os.Stderr, "backfill requires --from and --to (or FROM_DATE/TO_DATE)")
		os.Exit(2)
	}
	if cfg.retryMax < 0 {
		cfg.retryMax = 0
	}
	return cfg
}

func ensureDirectories(cfg config) error {
	for _, d := range []string{cfg.downloadDir, cfg.cacheDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

func buildAdapter(cfg config) (registry.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.adapter)) {
	case "http":
		client := registry.NewClient(registry.ClientOptions{
			Delay:     time.Duration(cfg.requestDelay * float64(time.Second)),
			RetryMax:  cfg.retryMax,
			Timeout:   time.Duration(cfg.downloadTimeoutSec) * time.Second,
			UserAgent: cfg.userAgent,
		})
		return registry.NewHTTPAdapter(registry.HTTPAdapterOptions{
			BaseURL: cfg.baseURL,
			Client:  client,
		})
	default:
		return registry.NewMockAdapter(registry.MockAdapterOptions{BaseURL: cfg.baseURL}), nil
	}
}

func buildStore(ctx context.Context, cfg config) (DocumentStore, error) {
	if cfg.gcsBucket != "" {
		return newGCSStore(ctx, cfg.gcsBucket, cfg.gcsPrefix)
	}
	return newDiskStore(cfg.downloadDir)
}

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Failures from here to the first unit of work are fatal; everything
	// after is recorded per unit in the run report.
	if err := ensureDirectories(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "directories:", err)
		os.Exit(2)
	}
	if cfg.mode == "healthcheck" {
		fmt.Println("healthcheck=ok")
		return
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adapter:", err)
		os.Exit(2)
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "document store:", err)
		os.Exit(2)
	}

	var sink Sink
	if cfg.pgDSN != "" {
		pg, err := openPGSink(ctx, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sink:", err)
			os.Exit(2)
		}
		defer pg.Close()
		sink = pg
	} else {
		fmt.Fprintln(os.Stderr, "no PG_DSN configured; rows will be saved to local CSV")
		sink = newCSVSink(cfg.cacheDir)
	}

	c := newCollector(cfg, adapter, sink, store)

	var rep *RunReport
	switch cfg.mode {
	case "refresh":
		rep = c.RunReferenceRefresh(ctx)
	case "sweep":
		rep = c.RunIncrementalSweep(ctx, cfg.daysBack)
	case "full":
		rep = c.RunFull(ctx, cfg.daysBack)
	case "backfill":
		rep, err = c.RunHistoricalBackfill(ctx, cfg.fromDate, cfg.toDate, cfg.chunkDays)
		if err != nil {
			fmt.Fprintln(os.Stderr, "backfill:", err)
			os.Exit(2)
		}
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	if path, err := writeReport(cfg.cacheDir, rep, stamp); err != nil {
		fmt.Fprintln(os.Stderr, "report:", err)
	} else {
		fmt.Fprintln(os.Stderr, "report written to", path)
	}
	if cfg.jsonLogs {
		printSummary(rep)
	}
}
