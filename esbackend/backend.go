// Package esbackend serves scroll searches from Elasticsearch through the
// official go-elasticsearch client.
package esbackend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"

	"github.com/Alp4ka/deeppager"
	"github.com/Alp4ka/deeppager/internal/dsl"
)

type Backend struct {
	es      *elasticsearch.Client
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

// WithRefresh sets the refresh policy of write requests: "true", "false" or
// "wait_for".
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

func New(es *elasticsearch.Client, opts ...Option) *Backend {
	b := &Backend{
		es:      es,
		logger:  logrus.StandardLogger(),
		maxSize: deeppager.MaxPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Config is the connection part of the client configuration.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Transport http.RoundTripper
	// DisableRetry turns off the client's retries of 502, 503 and 504.
	DisableRetry bool
}

// NewClient builds a client for the given cluster.
func NewClient(cfg Config) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    cfg.Transport,
		DisableRetry: cfg.DisableRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client creation error: %w", err)
	}

	return es, nil
}

// Search - implements deeppager.SearchBackend.
func (b *Backend) Search(ctx context.Context, req deeppager.SearchRequest) (*deeppager.ScrollBatch, error) {
	body, err := dsl.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	opts := []func(*esapi.SearchRequest){
		b.es.Search.WithContext(ctx),
		b.es.Search.WithIndex(req.Targets...),
		b.es.Search.WithBody(bytes.NewReader(body)),
	}
	if req.Scrolls() {
		opts = append(opts, b.es.Search.WithScroll(req.KeepAlive))
	}

	res, err := b.es.Search(opts...)
	if err = check("search", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	resp, err := dsl.DecodeSearch(res.Body)
	if err != nil {
		return nil, err
	}

	return resp.Batch(), nil
}

// MaxPageSize - implements deeppager.PageSizeLimiter.
func (b *Backend) MaxPageSize() int {
	return b.maxSize
}

// ScrollAdvance - implements deeppager.SearchBackend.
func (b *Backend) ScrollAdvance(ctx context.Context, token string, keepAlive time.Duration) (*deeppager.ScrollBatch, error) {
	body, err := dsl.Scroll(token, keepAlive)
	if err != nil {
		return nil, err
	}

	res, err := b.es.Scroll(
		b.es.Scroll.WithContext(ctx),
		b.es.Scroll.WithBody(bytes.NewReader(body)),
	)
	if err = check("scroll", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	resp, err := dsl.DecodeSearch(res.Body)
	if err != nil {
		return nil, err
	}

	return resp.Batch(), nil
}

// ScrollClose - implements deeppager.SearchBackend. Scrolls the cluster no
// longer knows are not an error.
func (b *Backend) ScrollClose(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	body, err := dsl.ClearScroll(tokens)
	if err != nil {
		return err
	}

	res, err := b.es.ClearScroll(
		b.es.ClearScroll.WithContext(ctx),
		b.es.ClearScroll.WithBody(bytes.NewReader(body)),
	)
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil
	}
	if err = check("clear scroll", res, err); err != nil {
		return err
	}
	defer res.Body.Close()

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

	res, err := b.es.Search(
		b.es.Search.WithContext(ctx),
		b.es.Search.WithIndex(req.Targets...),
		b.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err = check("id search", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	resp, err := dsl.DecodeSearch(res.Body)
	if err != nil {
		return nil, err
	}

	return resp.Documents(), nil
}

// check turns transport failures and error statuses into errors. The body
// of a failed response is consumed and closed.
func check(op string, res *esapi.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}

	if res.IsError() {
		defer res.Body.Close()
		return fmt.Errorf("%s request failed: %w", op, dsl.DecodeError(res.StatusCode, res.Body))
	}

	return nil
}

var (
	_ deeppager.SearchBackend   = (*Backend)(nil)
	_ deeppager.PageSizeLimiter = (*Backend)(nil)
)
