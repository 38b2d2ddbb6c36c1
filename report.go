package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// RunReport is the process-local record of one orchestration run. It is
// always produced, even for a run that encountered failures: a run with zero
// successful items and a non-empty error list is a degraded success, not a
// crash. The report is printed as one JSON summary line and written as a
// timestamped artifact under the cache dir.
type RunReport struct {
	RunID     string `json:"run_id"`
	Mode      string `json:"mode"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	IssuersRefreshed     bool `json:"issuers_refreshed"`
	DocTypesRefreshed    bool `json:"doc_types_refreshed"`
	IssuersUpserted      int  `json:"issuers_upserted"`
	DocTypeRulesUpserted int  `json:"doc_type_rules_upserted"`

	TotalFilingsRetrieved int `json:"total_filings_retrieved"`
	TotalPDFsDownloaded   int `json:"total_pdfs_downloaded"`
	TotalFilingsInserted  int `json:"total_filings_inserted"`
	DocumentsCached       int `json:"documents_cached"`
	RecordsSkipped        int `json:"records_skipped"`
	ChunksProcessed       int `json:"chunks_processed"`

	// Errors is ordered by occurrence and carries enough context
	// (identifier, stage) for manual replay.
	Errors []string `json:"errors"`
}

func (c *Collector) newReport(mode string) *RunReport {
	return &RunReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartTime: c.now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		Errors:    []string{},
	}
}

func (c *Collector) finishReport(rep *RunReport) {
	rep.EndTime = c.now().UTC().Format("2006-01-02T15:04:05Z07:00")
}

func (r *RunReport) addError(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	log.Print(msg)
	r.Errors = append(r.Errors, msg)
}

// writeReport persists the report as run_results_<timestamp>.json and
// returns the path. The artifact is for audit and debugging; it is not read
// back by any run.
func writeReport(dir string, rep *RunReport, stamp string) (string, error) {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "run_results_"+stamp+".json")
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// printSummary emits the single-line JSON summary for log scraping.
func printSummary(rep *RunReport) {
	b, _ := json.Marshal(rep)
	fmt.Println(string(b))
}
