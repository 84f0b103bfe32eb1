// Package osbackend serves scroll searches from OpenSearch through the typed
// opensearch-go client.
package osbackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Alp4ka/deeppager"
	"github.com/Alp4ka/deeppager/internal/dsl"
)

type Backend struct {
	client  *opensearchapi.Client
	logger  logrus.FieldLogger
	refresh string
	maxSize int
}

type Option func(*Backend)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRefresh sets the refresh policy of bulk requests.
func WithRefresh(refresh string) Option {
	return func(b *Backend) {
		b.refresh = refresh
	}
}

// WithMaxPageSize sets the largest page the backend serves. It must not
// exceed the index.max_result_window of the searched indices.
func WithMaxPageSize(size int) Option {
	return func(b *Backend) {
		if size > 0 {
			b.maxSize = size
		}
	}
}

func New(client *opensearchapi.Client, opts ...Option) *Backend {
	b := &Backend{
		client:  client,
		logger:  logrus.StandardLogger(),
		maxSize: deeppager.MaxPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

type Config struct {
	Addresses    []string
	Username     string
	Password     string
	Transport    http.RoundTripper
	DisableRetry bool
}

// NewClient builds a client for the given cluster.
func NewClient(cfg Config) (*opensearchapi.Client, error) {
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:    cfg.Addresses,
			Username:     cfg.Username,
			Password:     cfg.Password,
			Transport:    cfg.Transport,
			DisableRetry: cfg.DisableRetry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client creation error: %w", err)
	}

	return client, nil
}

// Search - implements deeppager.SearchBackend.
func (b *Backend) Search(ctx context.Context, req deeppager.SearchRequest) (*deeppager.ScrollBatch, error) {
	body, err := dsl.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	searchReq := &opensearchapi.SearchReq{
		Indices: req.Targets,
		Body:    bytes.NewReader(body),
	}
	if req.Scrolls() {
		searchReq.Params.Scroll = req.KeepAlive
	}

	resp, err := b.client.Search(ctx, searchReq)
	if err != nil {
		return nil, requestError("search", err)
	}

	return &deeppager.ScrollBatch{
		Token: lo.FromPtr(resp.ScrollID),
		Total: int64(resp.Hits.Total.Value),
		Hits:  hits(resp.Hits.Hits),
	}, nil
}

// MaxPageSize - implements deeppager.PageSizeLimiter.
func (b *Backend) MaxPageSize() int {
	return b.maxSize
}

// ScrollAdvance - implements deeppager.SearchBackend.
func (b *Backend) ScrollAdvance(ctx context.Context, token string, keepAlive time.Duration) (*deeppager.ScrollBatch, error) {
	resp, err := b.client.Scroll.Get(ctx, opensearchapi.ScrollGetReq{
		ScrollID: token,
		Params:   opensearchapi.ScrollGetParams{Scroll: deeppager.NormalizeKeepAlive(keepAlive)},
	})
	if err != nil {
		return nil, requestError("scroll", err)
	}

	return &deeppager.ScrollBatch{
		Token: lo.FromPtr(resp.ScrollID),
		Total: int64(resp.Hits.Total.Value),
		Hits:  hits(resp.Hits.Hits),
	}, nil
}

// ScrollClose - implements deeppager.SearchBackend. Scrolls the cluster no
// longer knows are not an error.
func (b *Backend) ScrollClose(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	_, err := b.client.Scroll.Delete(ctx, opensearchapi.ScrollDeleteReq{ScrollIDs: tokens})
	if err != nil {
		var structErr *opensearch.StructError
		if errors.As(err, &structErr) && structErr.Status == http.StatusNotFound {
			return nil
		}
		return requestError("clear scroll", err)
	}

	b.logger.WithField("scrolls", len(tokens)).Debug("scrolls cleared")

	return nil
}

// SearchByIDs - implements deeppager.SearchBackend.
func (b *Backend) SearchByIDs(ctx context.Context, req deeppager.IDsRequest) ([]deeppager.Hit, error) {
	if len(req.IDs) == 0 {
		return nil, nil
	}

	body, err := dsl.IDs(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	resp, err := b.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: req.Targets,
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, requestError("id search", err)
	}

	return hits(resp.Hits.Hits), nil
}

func hits(src []opensearchapi.SearchHit) []deeppager.Hit {
	return lo.Map(src, func(hit opensearchapi.SearchHit, _ int) deeppager.Hit {
		return deeppager.Hit{ID: hit.ID, Source: hit.Source}
	})
}

// requestError keeps engine error bodies inspectable as dsl.ResponseError.
func requestError(op string, err error) error {
	var structErr *opensearch.StructError
	if errors.As(err, &structErr) {
		return fmt.Errorf("%s request failed: %w", op, &dsl.ResponseError{
			Status: structErr.Status,
			Type:   structErr.Err.Type,
			Reason: structErr.Err.Reason,
		})
	}

	return fmt.Errorf("%s request failed: %w", op, err)
}

var (
	_ deeppager.SearchBackend   = (*Backend)(nil)
	_ deeppager.PageSizeLimiter = (*Backend)(nil)
)
