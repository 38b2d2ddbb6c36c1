package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	exportPath = "/csa-party/service/exportCsv"
	searchPath = "/csa-party/service/searchDocuments"
	// documentPathFmt synthesizes a direct content link from a document GUID
	// when the search result carries none.
	documentPathFmt = "/csa-party/records/document.html?id=%s"
)

// HTTPAdapter talks to a filings registry under a base URL.
//
// Expected endpoints:
//
//	POST {base}/csa-party/service/exportCsv
//	  {"service": "...", "queryArgs": {...}} -> delimited text
//	POST {base}/csa-party/service/searchDocuments
//	  {"queryArgs": {...}} -> {"results": [...]}
//	GET  {document url} -> binary payload
type HTTPAdapter struct {
	baseURL string
	client  *Client
}

// HTTPAdapterOptions configures the networked adapter.
type HTTPAdapterOptions struct {
	BaseURL string
	Client  *Client
}

func NewHTTPAdapter(opts HTTPAdapterOptions) (*HTTPAdapter, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	if opts.Client == nil {
		return nil, errors.New("Client is required")
	}
	return &HTTPAdapter{
		baseURL: strings.TrimRight(base, "/"),
		client:  opts.Client,
	}, nil
}

func (a *HTTPAdapter) Name() string { return "http" }

type exportRequest struct {
	Service   string         `json:"service"`
	QueryArgs map[string]any `json:"queryArgs"`
}

func (a *HTTPAdapter) ExportTable(ctx context.Context, params ExportParams) (*Table, error) {
	args := map[string]any{
		"_locale": locale(params.Locale),
		"start":   startOrDefault(params.Start),
	}
	if params.PageSize > 0 {
		args["pageSize"] = params.PageSize
	}
	if params.FromDate != "" {
		args["fromDate"] = params.FromDate
	}
	if params.ToDate != "" {
		args["toDate"] = params.ToDate
	}
	payload, err := json.Marshal(exportRequest{Service: params.Service, QueryArgs: args})
	if err != nil {
		return nil, &FetchError{Service: params.Service, Err: err}
	}

	body, _, err := a.client.Do(ctx, http.MethodPost, a.baseURL+exportPath, "application/json", payload)
	if err != nil {
		return nil, err
	}
	t, err := ParseTable(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Service: params.Service, Err: err}
	}
	return t, nil
}

type searchRequest struct {
	QueryArgs map[string]any `json:"queryArgs"`
}

// searchResult mirrors one entry of the JSON search response.
type searchResult struct {
	DocumentGUID  string `json:"documentGuid"`
	IssuerNo      string `json:"issuerNumber"`
	FilingType    string `json:"filingTypeName"`
	DocumentType  string `json:"documentTypeName"`
	SubmittedDate string `json:"submittedDate"`
	Size          int64  `json:"size"`
	GenerateURL   string `json:"generateUrl"`
}

func (a *HTTPAdapter) SearchFilings(ctx context.Context, params SearchParams) ([]FilingRecord, error) {
	args := map[string]any{
		"_locale":    locale(params.Locale),
		"fromDate":   params.FromDate,
		"toDate":     params.ToDate,
		"start":      startOrDefault(params.Start),
		"sortColumn": "submittedDate",
		"sortOrder":  "desc",
	}
	if params.PageSize > 0 {
		args["pageSize"] = params.PageSize
	}
	payload, err := json.Marshal(searchRequest{QueryArgs: args})
	if err != nil {
		return nil, &FetchError{Service: ServiceSearchDocuments, Err: err}
	}

	body, _, err := a.client.Do(ctx, http.MethodPost, a.baseURL+searchPath, "application/json", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results []searchResult `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Service: ServiceSearchDocuments, Err: err}
	}

	out := make([]FilingRecord, 0, len(resp.Results))
	for _, r := range resp.Results {
		rec := FilingRecord{
			DocumentGUID: strings.TrimSpace(r.DocumentGUID),
			IssuerNo:     strings.TrimSpace(r.IssuerNo),
			FilingType:   strings.TrimSpace(r.FilingType),
			DocumentType: strings.TrimSpace(r.DocumentType),
			FiledDate:    strings.TrimSpace(r.SubmittedDate),
			SizeBytes:    r.Size,
			URL:          strings.TrimSpace(r.GenerateURL),
		}
		if rec.URL == "" && rec.DocumentGUID != "" {
			rec.URL = a.DocumentURL(rec.DocumentGUID)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DocumentURL synthesizes the content link for a document GUID.
func (a *HTTPAdapter) DocumentURL(guid string) string {
	return a.baseURL + fmt.Sprintf(documentPathFmt, url.QueryEscape(guid))
}

func (a *HTTPAdapter) FetchDocument(ctx context.Context, docURL string) ([]byte, error) {
	body, _, err := a.client.Do(ctx, http.MethodGet, docURL, "", nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func locale(l string) string {
	if l == "" {
		return "en"
	}
	return l
}

func startOrDefault(s int) int {
	if s <= 0 {
		return 1
	}
	return s
}
