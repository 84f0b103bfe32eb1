package esbackend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
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
	opts := []func(*esapi.BulkRequest){
		b.es.Bulk.WithContext(ctx),
		b.es.Bulk.WithIndex(index),
	}
	if b.refresh != "" {
		opts = append(opts, b.es.Bulk.WithRefresh(b.refresh))
	}

	res, err := b.es.Bulk(bytes.NewReader(body), opts...)
	if err = check("bulk", res, err); err != nil {
		return err
	}
	defer res.Body.Close()

	if err = dsl.DecodeBulk(res.Body); err != nil {
		return err
	}

	b.logger.WithFields(logrus.Fields{
		"index":   index,
		"actions": actions,
	}).Debug("bulk request done")

	return nil
}

// FindByID returns the document with the given id, or nil when there is none.
func (b *Backend) FindByID(ctx context.Context, index, id string) (*deeppager.Hit, error) {
	res, err := b.es.Get(index, id, b.es.Get.WithContext(ctx))
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, nil
	}
	if err = check("get", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var doc struct {
		ID     string          `json:"_id"`
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err = json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cannot parse get response: %w", err)
	}
	if !doc.Found {
		return nil, nil
	}

	return &deeppager.Hit{ID: doc.ID, Source: doc.Source}, nil
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

	res, err := b.es.Count(
		b.es.Count.WithContext(ctx),
		b.es.Count.WithIndex(targets...),
		b.es.Count.WithBody(bytes.NewReader(body)),
	)
	if err = check("count", res, err); err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var resp struct {
		Count int64 `json:"count"`
	}
	if err = json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("cannot parse count response: %w", err)
	}

	return resp.Count, nil
}
