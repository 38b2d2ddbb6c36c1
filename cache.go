package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"filings-ingest/registry"
)

// exportCache writes raw fetch output to local files named by the query
// parameters. The cache is advisory — it supports re-run debugging without
// re-querying the source and is never read back as a source of truth, so
// write failures are logged and swallowed.
type exportCache struct {
	dir string
}

func (c *exportCache) putTable(name string, t *registry.Table) {
	if c.dir == "" {
		return
	}
	f, err := os.Create(filepath.Join(c.dir, name))
	if err != nil {
		log.Printf("cache %s: %v", name, err)
		return
	}
	defer f.Close()
	if err := t.WriteCSV(f); err != nil {
		log.Printf("cache %s: %v", name, err)
	}
}

func (c *exportCache) putJSON(name string, v any) {
	if c.dir == "" {
		return
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("cache %s: %v", name, err)
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, name), b, 0644); err != nil {
		log.Printf("cache %s: %v", name, err)
	}
}
