// Package reporting mirrors committed applications into Elasticsearch and
// answers reporting queries from there.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/models"
)

var ErrIndexNotFound = errors.New("reporting index not found")

type Indexer struct {
	client *elasticsearch.Client
	index  string
	loc    *time.Location
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, loc *time.Location, log logger.Logger) *Indexer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Indexer{
		client: client,
		index:  index,
		loc:    loc,
		logger: log.WithFields(map[string]interface{}{"component": "reporting", "index": index}),
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(readBody(res), "resource_already_exists_exception") {
		return fmt.Errorf("create index: %s", res.Status())
	}
	i.logger.Info("Created reporting index", nil)
	return nil
}

// Index upserts the document for app. The update timestamp is used as an
// external version so a late write never replaces a newer state.
func (i *Indexer) Index(ctx context.Context, app *models.Application) error {
	doc, err := NewDocument(app, i.loc)
	if err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	// updatedAt in epoch milliseconds orders snapshots of one application
	version := int(app.UpdatedAt.UnixMilli())
	req := esapi.IndexRequest{
		Index:       i.index,
		DocumentID:  app.ID,
		Body:        bytes.NewReader(body),
		Version:     &version,
		VersionType: "external_gte",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index %s: %w", app.ID, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		i.logger.Debug("Skipped stale reporting update", map[string]interface{}{"applicationId": app.ID})
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("index %s: %s", app.ID, res.Status())
	}
	return nil
}

func readBody(res *esapi.Response) string {
	b, _ := io.ReadAll(res.Body)
	return string(b)
}
