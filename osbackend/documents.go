package osbackend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"

	"github.com/Alp4ka/deeppager"
	"github.com/Alp4ka/deeppager/internal/dsl"
)

// BulkIndex indexes (creates or replaces) documents in one bulk request.
func (b *Backend) BulkIndex(ctx context.Context, index string, docs []deeppager.Hit) error {
	if len(docs) == 0 {
		return nil
	}

	body, err := dsl.BulkIndex(index, lo.Map(docs, func(hit deeppager.Hit, _ int) dsl.Document {
		return dsl.Document{ID: hit.ID, Source: hit.Source}
	}))
	if err != nil {
		return fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	return b.bulk(ctx, index, body, len(docs))
}

// BulkDelete removes documents by id in one bulk request. Missing ids are
// not an error.
func (b *Backend) BulkDelete(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	body, err := dsl.BulkDelete(index, ids)
	if err != nil {
		return err
	}

	return b.bulk(ctx, index, body, len(ids))
}

func (b *Backend) bulk(ctx context.Context, index string, body []byte, actions int) error {
	resp, err := b.client.Bulk(ctx, opensearchapi.BulkReq{
		Index:  index,
		Body:   bytes.NewReader(body),
		Params: opensearchapi.BulkParams{Refresh: b.refresh},
	})
	if err != nil {
		return requestError("bulk", err)
	}

	if resp.Errors {
		failed := lo.SumBy(resp.Items, func(item map[string]opensearchapi.BulkRespItem) int {
			return lo.CountBy(lo.Values(item), func(result opensearchapi.BulkRespItem) bool { return result.Error != nil })
		})
		return fmt.Errorf("bulk request failed for %d items", failed)
	}

	b.logger.WithFields(logrus.Fields{
		"index":   index,
		"actions": actions,
	}).Debug("bulk request done")

	return nil
}

// FindByID returns the document with the given id, or nil when there is none.
func (b *Backend) FindByID(ctx context.Context, index, id string) (*deeppager.Hit, error) {
	resp, err := b.client.Document.Get(ctx, opensearchapi.DocumentGetReq{Index: index, DocumentID: id})
	if resp != nil {
		if res := resp.Inspect().Response; res != nil && res.StatusCode == http.StatusNotFound {
			return nil, nil
		}
	}
	if err != nil {
		return nil, requestError("get", err)
	}
	if !resp.Found {
		return nil, nil
	}

	return &deeppager.Hit{ID: resp.ID, Source: resp.Source}, nil
}

// Count returns the number of documents of targets matching filter.
func (b *Backend) Count(ctx context.Context, filter any, targets ...string) (int64, error) {
	query, err := dsl.FilterQuery(filter)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	body, err := json.Marshal(map[string]json.RawMessage{"query": query})
	if err != nil {
		return 0, err
	}

	resp, err := b.client.Indices.Count(ctx, &opensearchapi.IndicesCountReq{
		Indices: targets,
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return 0, requestError("count", err)
	}

	return int64(resp.Count), nil
}
