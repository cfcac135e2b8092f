package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	defaultSize = 20
	maxSize     = 500
)

// Query filters reporting searches. Zero values match everything.
type Query struct {
	Status          string `json:"status,omitempty"`
	ApplicationType string `json:"applicationType,omitempty"`
	Year            int    `json:"year,omitempty"`
	Text            string `json:"text,omitempty"`
	From            int    `json:"from,omitempty"`
	Size            int    `json:"size,omitempty"`
}

type SearchResult struct {
	Total     int64       `json:"total"`
	Took      int         `json:"took"`
	Documents []*Document `json:"documents"`
}

// Summary counts applications per status for one submission year.
type Summary struct {
	Year     int            `json:"year"`
	Total    int64          `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

func (q Query) filters() []interface{} {
	var filters []interface{}
	if q.Status != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"status": q.Status}})
	}
	if q.ApplicationType != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"applicationType": q.ApplicationType}})
	}
	if q.Year != 0 {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"submissionYear": q.Year}})
	}
	return filters
}

func (q Query) body() map[string]interface{} {
	must := []interface{}{map[string]interface{}{"match_all": map[string]interface{}{}}}
	if q.Text != "" {
		must = []interface{}{map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"applicantName^2", "referenceNumber", "serialNumber", "vehicleRegistration", "icNumber"},
			},
		}}
	}
	boolQuery := map[string]interface{}{"must": must}
	if f := q.filters(); len(f) > 0 {
		boolQuery["filter"] = f
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort":  []interface{}{map[string]interface{}{"submittedAt": map[string]interface{}{"order": "desc"}}},
	}
}

type searchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		ByStatus struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int    `json:"doc_count"`
			} `json:"buckets"`
		} `json:"by_status"`
	} `json:"aggregations"`
}

func (i *Indexer) Search(ctx context.Context, q Query) (*SearchResult, error) {
	size := q.Size
	if size <= 0 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	from := q.From
	if from < 0 {
		from = 0
	}

	resp, err := i.search(ctx, q.body(), from, size)
	if err != nil {
		return nil, err
	}

	out := &SearchResult{Total: resp.Hits.Total.Value, Took: resp.Took, Documents: make([]*Document, 0, len(resp.Hits.Hits))}
	for _, hit := range resp.Hits.Hits {
		doc := hit.Source
		out.Documents = append(out.Documents, &doc)
	}
	return out, nil
}

func (i *Indexer) Summary(ctx context.Context, year int) (*Summary, error) {
	body := Query{Year: year}.body()
	delete(body, "sort")
	body["aggs"] = map[string]interface{}{
		"by_status": map[string]interface{}{"terms": map[string]interface{}{"field": "status", "size": 10}},
	}

	resp, err := i.search(ctx, body, 0, 0)
	if err != nil {
		return nil, err
	}

	out := &Summary{Year: year, Total: resp.Hits.Total.Value, ByStatus: map[string]int{}}
	for _, b := range resp.Aggregations.ByStatus.Buckets {
		out.ByStatus[b.Key] = b.DocCount
	}
	return out, nil
}

func (i *Indexer) search(ctx context.Context, body map[string]interface{}, from, size int) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index:          []string{i.index},
		Body:           bytes.NewReader(payload),
		From:           &from,
		Size:           &size,
		TrackTotalHits: true,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrIndexNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &parsed, nil
}
