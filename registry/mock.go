package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
)

// MockAdapter produces synthetic registry data for demos and unit tests.
// It is deterministic for a given seed and makes no network calls.
type MockAdapter struct {
	baseURL string
	seed    int64
}

type MockAdapterOptions struct {
	BaseURL string // used only to synthesize document URLs
	Seed    int64
}

func NewMockAdapter(opts MockAdapterOptions) *MockAdapter {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = "https://example-registry.invalid"
	}
	return &MockAdapter{
		baseURL: strings.TrimRight(base, "/"),
		seed:    opts.Seed,
	}
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) ExportTable(ctx context.Context, params ExportParams) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	switch params.Service {
	case ServiceReportingIssuers:
		sb.WriteString("Issuer Number,Name,Jurisdiction(s),Type,In Default Flag,Active CTO Flag\n")
		for i := 1; i <= 25; i++ {
			fmt.Fprintf(&sb, "%08d,Synthetic Issuer %d,\"Ontario, Quebec\",Other Issuer,No,No\n", i, i)
		}
	case ServiceDocumentTypes:
		sb.WriteString("Filing Category,Filing Type,Document Type,Access Level\n")
		sb.WriteString("Continuous Disclosure,Annual Report,Annual Report,Public\n")
		sb.WriteString("Continuous Disclosure,News Release,News Release,Public\n")
		sb.WriteString("Securities Offerings,Prospectus,Prospectus,Public\n")
	case ServiceSearchDocuments:
		sb.WriteString("Issuer Number,Document GUID,Filing Type,Document Type,Date Filed,Generate URL,Size\n")
		for _, rec := range m.syntheticFilings(params.FromDate, params.ToDate) {
			fmt.Fprintf(&sb, "%s,%s,%s,%s,%s,%s,%d\n",
				rec.IssuerNo, rec.DocumentGUID, rec.FilingType, rec.DocumentType,
				rec.FiledDate, rec.URL, rec.SizeBytes)
		}
	default:
		return nil, &FetchError{Service: params.Service, Err: fmt.Errorf("unknown service")}
	}
	return ParseTable(strings.NewReader(sb.String()))
}

func (m *MockAdapter) SearchFilings(ctx context.Context, params SearchParams) ([]FilingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.syntheticFilings(params.FromDate, params.ToDate), nil
}

func (m *MockAdapter) FetchDocument(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("%PDF-1.4 synthetic document " + url + "\n"), nil
}

// syntheticFilings derives a stable set of records from the date range.
func (m *MockAdapter) syntheticFilings(fromDate, toDate string) []FilingRecord {
	hh := fnv.New64a()
	hh.Write([]byte(fromDate + "|" + toDate))
	h := hh.Sum64()
	r := rand.New(rand.NewSource(int64(h) ^ m.seed))

	n := 3 + r.Intn(5)
	out := make([]FilingRecord, 0, n)
	for i := 0; i < n; i++ {
		guid, issuer := fmt.Sprintf("%016x%04d", h, i), fmt.Sprintf("%08d", 1+r.Intn(25))
		out = append(out, FilingRecord{
			DocumentGUID: guid,
			IssuerNo:     issuer,
			FilingType:   "News Release",
			DocumentType: "News Release",
			FiledDate:    toDate,
			SizeBytes:    int64(1024 + r.Intn(4096)),
			URL:          m.baseURL + fmt.Sprintf(documentPathFmt, guid),
		})
	}
	return out
}
