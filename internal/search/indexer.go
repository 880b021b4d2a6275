package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

const DefaultIndex = "aktivitetslogg"

// Indexer is the search store the mirror writes to.
type Indexer interface {
	// Index upserts docs by id.
	Index(ctx context.Context, docs []Document) error
	DeleteByPerson(ctx context.Context, ident string) (int64, error)
}

type OpenSearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type OpenSearchIndexer struct {
	client *opensearchapi.Client
	index  string
	log    *logger.Logger
}

func NewOpenSearchIndexer(log *logger.Logger, cfg OpenSearchConfig) (*OpenSearchIndexer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("search: opensearch url required")
	}
	index := strings.TrimSpace(cfg.Index)
	if index == "" {
		index = DefaultIndex
	}
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: strings.Split(cfg.URL, ","),
			Username:  cfg.Username,
			Password:  cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search: opensearch client: %w", err)
	}
	return &OpenSearchIndexer{
		client: client,
		index:  index,
		log:    log.With("component", "OpenSearchIndexer", "index", index),
	}, nil
}

func (o *OpenSearchIndexer) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	body, err := bulkBody(o.index, docs)
	if err != nil {
		return err
	}
	resp, err := o.client.Bulk(ctx, opensearchapi.BulkReq{Body: bytes.NewReader(body)})
	if err != nil {
		return fmt.Errorf("search: bulk: %w", err)
	}
	if !resp.Errors {
		return nil
	}
	failed := 0
	var first string
	for _, item := range resp.Items {
		for _, res := range item {
			if res.Status < 300 {
				continue
			}
			failed++
			if first == "" && res.Error != nil {
				first = res.Error.Type + ": " + res.Error.Reason
			}
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("search: bulk: %d of %d documents rejected (%s)", failed, len(docs), first)
}

func (o *OpenSearchIndexer) DeleteByPerson(ctx context.Context, ident string) (int64, error) {
	query, err := deleteByPersonQuery(ident)
	if err != nil {
		return 0, err
	}
	resp, err := o.client.Document.DeleteByQuery(ctx, opensearchapi.DocumentDeleteByQueryReq{
		Indices: []string{o.index},
		Body:    bytes.NewReader(query),
	})
	if err != nil {
		return 0, fmt.Errorf("search: delete by query: %w", err)
	}
	o.log.Info("Deleted person documents", "person_ident", ident, "deleted", resp.Deleted)
	return int64(resp.Deleted), nil
}

// bulkBody renders docs as index actions keyed by activity id.
func bulkBody(index string, docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		action := map[string]map[string]string{"index": {"_index": index, "_id": d.ID}}
		if err := enc.Encode(action); err != nil {
			return nil, err
		}
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("search: encode %s: %w", d.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func deleteByPersonQuery(ident string) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"fødselsnummer": ident,
			},
		},
	})
}
