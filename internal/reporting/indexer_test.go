package reporting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeTransport answers every request with the next canned response.
type fakeTransport struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses []*http.Response
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	f.requests = append(f.requests, recordedRequest{Method: req.Method, Path: req.URL.Path, Query: req.URL.RawQuery, Body: body})

	res := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{}`))}
	if len(f.responses) > 0 {
		res = f.responses[0]
		f.responses = f.responses[1:]
	}
	res.Header = http.Header{}
	res.Header.Set("X-Elastic-Product", "Elasticsearch")
	res.Header.Set("Content-Type", "application/json")
	res.Request = req
	return res, nil
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func newTestIndexer(t *testing.T, responses ...*http.Response) (*Indexer, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{responses: responses}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://es.test:9200"},
		Transport: ft,
	})
	require.NoError(t, err)
	return NewIndexer(client, "sticker-applications", time.UTC, logger.NewTestLogger(t)), ft
}

func approvedApplication() *models.Application {
	submitted := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	approved := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	expiry := time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC)
	return &models.Application{
		ID:              "app-1",
		ReferenceNumber: "RB20250001",
		Type:            models.TypeNew,
		Status:          models.StatusApproved,
		Applicant: models.Applicant{
			Name:                "Siti Nurhaliza",
			ICNumber:            "850215-10-5432",
			VehicleRegistration: "WXY1234",
			DisabilityCategory:  "physical",
		},
		SerialNumber: "MPHS/2025/0001",
		SubmittedAt:  submitted,
		ApprovedAt:   &approved,
		ExpiryAt:     &expiry,
		UpdatedAt:    approved,
	}
}

func TestNewDocument(t *testing.T) {
	doc, err := NewDocument(approvedApplication(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2027-12-31", doc.ExpiryAt)
	assert.Equal(t, 2025, doc.SubmissionYear)
	assert.Equal(t, "approved", doc.Status)

	broken := approvedApplication()
	broken.ApprovedAt = nil
	_, err = NewDocument(broken, time.UTC)
	assert.Error(t, err)
}

func TestIndexer_Index(t *testing.T) {
	idx, ft := newTestIndexer(t, respond(http.StatusCreated, `{"result":"created"}`))
	app := approvedApplication()

	require.NoError(t, idx.Index(context.Background(), app))
	require.Len(t, ft.requests, 1)

	req := ft.requests[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/sticker-applications/_doc/app-1", req.Path)
	assert.Contains(t, req.Query, "version_type=external_gte")
	assert.Contains(t, req.Query, "version="+strconv.FormatInt(app.UpdatedAt.UnixMilli(), 10))

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(req.Body), &doc))
	assert.Equal(t, "MPHS/2025/0001", doc.SerialNumber)
	assert.Equal(t, "RB20250001", doc.ReferenceNumber)
}

func TestIndexer_IndexStaleVersionIgnored(t *testing.T) {
	idx, _ := newTestIndexer(t, respond(http.StatusConflict, `{"error":{"type":"version_conflict_engine_exception"}}`))
	assert.NoError(t, idx.Index(context.Background(), approvedApplication()))
}

func TestIndexer_IndexServerError(t *testing.T) {
	idx, _ := newTestIndexer(t, respond(http.StatusInternalServerError, `{"error":"boom"}`))
	assert.Error(t, idx.Index(context.Background(), approvedApplication()))
}

func TestIndexer_EnsureIndex(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		idx, ft := newTestIndexer(t, respond(http.StatusOK, ``))
		require.NoError(t, idx.EnsureIndex(context.Background()))
		assert.Len(t, ft.requests, 1)
	})

	t.Run("created", func(t *testing.T) {
		idx, ft := newTestIndexer(t,
			respond(http.StatusNotFound, ``),
			respond(http.StatusOK, `{"acknowledged":true}`),
		)
		require.NoError(t, idx.EnsureIndex(context.Background()))
		require.Len(t, ft.requests, 2)
		assert.Equal(t, http.MethodPut, ft.requests[1].Method)
		assert.Contains(t, ft.requests[1].Body, `"serialNumber"`)
	})
}

func TestIndexer_Search(t *testing.T) {
	doc, err := NewDocument(approvedApplication(), time.UTC)
	require.NoError(t, err)
	src, err := json.Marshal(doc)
	require.NoError(t, err)

	idx, ft := newTestIndexer(t, respond(http.StatusOK,
		`{"took":3,"hits":{"total":{"value":1},"hits":[{"_source":`+string(src)+`}]}}`))

	res, err := idx.Search(context.Background(), Query{Status: "approved", Year: 2025, Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "MPHS/2025/0001", res.Documents[0].SerialNumber)

	req := ft.requests[0]
	assert.Equal(t, "/sticker-applications/_search", req.Path)
	assert.Contains(t, req.Query, "size=500")
	assert.Contains(t, req.Body, `"status":"approved"`)
	assert.Contains(t, req.Body, `"submissionYear":2025`)
}

func TestIndexer_SearchMissingIndex(t *testing.T) {
	idx, _ := newTestIndexer(t, respond(http.StatusNotFound, `{"error":{"type":"index_not_found_exception"}}`))
	_, err := idx.Search(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestIndexer_Summary(t *testing.T) {
	idx, ft := newTestIndexer(t, respond(http.StatusOK, `{
		"took": 2,
		"hits": {"total": {"value": 5}, "hits": []},
		"aggregations": {"by_status": {"buckets": [
			{"key": "submitted", "doc_count": 3},
			{"key": "approved", "doc_count": 2}
		]}}
	}`))

	sum, err := idx.Summary(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.Total)
	assert.Equal(t, map[string]int{"submitted": 3, "approved": 2}, sum.ByStatus)
	assert.Contains(t, ft.requests[0].Body, `"by_status"`)
}
