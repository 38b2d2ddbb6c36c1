package main

import (
	"context"
	"time"

	"filings-ingest/registry"
)

// contentResult is the outcome of one document fetch.
type contentResult struct {
	Data   []byte
	Cached bool // document was already stored; no network call was made
}

// contentFetcher retrieves filing payloads with local-existence
// short-circuiting. All fetches go through the adapter's rate-limited
// transport; a wall-clock timeout bounds each download.
type contentFetcher struct {
	adapter registry.Adapter
	store   DocumentStore
	timeout time.Duration
}

// Fetch returns the document bytes for (url, guid). When the store already
// holds the GUID it returns Cached=true with no data and issues nothing over
// the network. The body is stored only after it was read fully, so partial
// downloads never persist.
func (c *contentFetcher) Fetch(ctx context.Context, url, guid string) (contentResult, error) {
	if c.store.Exists(ctx, guid) {
		return contentResult{Cached: true}, nil
	}

	dctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := c.adapter.FetchDocument(dctx, url)
	if err != nil {
		return contentResult{}, &DownloadError{GUID: guid, Err: err}
	}
	if err := c.store.Put(ctx, guid, data); err != nil {
		return contentResult{}, &DownloadError{GUID: guid, Err: err}
	}
	return contentResult{Data: data}, nil
}
