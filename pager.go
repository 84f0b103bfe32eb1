package deeppager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DeepPager serves random page access over a backend that only offers
// linear scroll cursors.
//
// A request for page N walks a scroll cursor N batches forward with document
// bodies disabled, keeps the ids of the last batch and fetches the full
// documents for just those ids. Reaching page N therefore costs N*size ids
// plus one bounded document fetch.
type DeepPager struct {
	backend          SearchBackend
	codec            DocumentCodec
	logger           logrus.FieldLogger
	defaultKeepAlive time.Duration
}

type Option func(*DeepPager)

// WithCodec sets the codec hit bodies are decoded with.
func WithCodec(codec DocumentCodec) Option {
	return func(p *DeepPager) {
		if codec != nil {
			p.codec = codec
		}
	}
}

// WithLogger sets the logger used for best-effort cleanup failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *DeepPager) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDefaultKeepAlive sets the scroll retention for requests without one.
func WithDefaultKeepAlive(keepAlive time.Duration) Option {
	return func(p *DeepPager) {
		p.defaultKeepAlive = NormalizeKeepAlive(keepAlive)
	}
}

func NewDeepPager(backend SearchBackend, opts ...Option) *DeepPager {
	p := &DeepPager{
		backend:          backend,
		codec:            NewJSONCodec(CodecConfig{AllowUnknownFields: true}),
		logger:           logrus.StandardLogger(),
		defaultKeepAlive: DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// FetchPage returns page req.PageNumber of req.Query decoded into T.
//
// The page holds the documents a top-to-bottom scroll in query sort order
// would yield at offsets [(N-1)*size, N*size). Every cursor opened on the way
// is closed before FetchPage returns, on error paths too.
func FetchPage[T any](ctx context.Context, p *DeepPager, req Request) (*Page[T], error) {
	if p == nil || p.backend == nil {
		return nil, fmt.Errorf("%w: pager has no backend", ErrInvalidArgument)
	}

	if err := req.validate(p.maxPageSize()); err != nil {
		return nil, fmt.Errorf("cannot fetch page: %w", err)
	}

	ids, total, err := p.walk(ctx, req)
	if err != nil {
		return nil, err
	}

	page := &Page[T]{
		PageNumber: req.PageNumber,
		PageSize:   req.PageSize,
		Total:      total,
		List:       []T{},
	}
	if len(ids) == 0 {
		return page, nil
	}

	hits, err := p.backend.SearchByIDs(ctx, IDsRequest{
		IDs:     ids,
		Targets: req.Targets,
		Source:  req.Query.Source,
		Sort:    req.Query.Sort,
		Limit:   len(ids),
	})
	if err != nil {
		return nil, backendError("id search", err)
	}

	page.List = make([]T, 0, len(ids))
	for _, hit := range inIDOrder(ids, hits) {
		var doc T
		if err = p.codec.Decode(hit.Source, &doc); err != nil {
			return nil, fmt.Errorf("cannot decode hit '%s': %w", hit.ID, err)
		}
		page.List = append(page.List, doc)
	}

	return page, nil
}

// maxPageSize is the batch cap of the backend, zero when it has none.
func (p *DeepPager) maxPageSize() int {
	if limiter, ok := p.backend.(PageSizeLimiter); ok {
		return limiter.MaxPageSize()
	}

	return 0
}

// walk advances a scroll cursor to the requested page and returns the ids
// of that page together with the total of the first search.
func (p *DeepPager) walk(ctx context.Context, req Request) (ids []string, total int64, err error) {
	keepAlive := req.KeepAlive
	if keepAlive <= 0 {
		keepAlive = p.defaultKeepAlive
	}

	walkQuery := *req.Query
	walkQuery.Source = Projection{Disabled: true}

	search := SearchRequest{
		Query:   walkQuery,
		Targets: req.Targets,
		From:    0,
		Size:    req.PageSize,
	}
	// The first page is served by the initial search alone.
	if req.PageNumber > 1 {
		search.KeepAlive = keepAlive
	}

	batch, err := p.backend.Search(ctx, search)
	if err != nil {
		return nil, 0, backendError("search", err)
	}
	total = batch.Total

	var tokens []string
	defer func() {
		p.closeScrolls(ctx, tokens, batch)
	}()

	for i := 1; i <= req.PageNumber; i++ {
		if len(batch.Hits) == 0 {
			break
		}

		if i == req.PageNumber {
			ids = lo.Map(batch.Hits, func(hit Hit, _ int) string { return hit.ID })
			break
		}

		tokens = append(tokens, batch.Token)
		next, err := p.backend.ScrollAdvance(ctx, batch.Token, keepAlive)
		if err != nil {
			return nil, 0, backendError(fmt.Sprintf("scroll advance %d", i), err)
		}
		batch = next
	}

	return ids, total, nil
}

// closeScrolls releases every cursor of a walk in a single call. Failures
// are logged and never replace the walk's own result.
func (p *DeepPager) closeScrolls(ctx context.Context, tokens []string, last *ScrollBatch) {
	if last != nil {
		tokens = append(tokens, last.Token)
	}

	tokens = lo.Uniq(lo.Compact(tokens))
	if len(tokens) == 0 {
		return
	}

	// Cleanup must run even when the caller's context is already done.
	closeCtx := context.WithoutCancel(ctx)
	if err := p.backend.ScrollClose(closeCtx, tokens); err != nil {
		p.logger.WithError(err).
			WithField("scrolls", len(tokens)).
			Warn("failed to clear scroll cursors")
	}
}

// inIDOrder orders hits like ids and drops ids the backend no longer has.
func inIDOrder(ids []string, hits []Hit) []Hit {
	byID := lo.KeyBy(hits, func(hit Hit) string { return hit.ID })

	return lo.FilterMap(ids, func(id string, _ int) (Hit, bool) {
		hit, ok := byID[id]
		return hit, ok
	})
}

func backendError(op string, err error) error {
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrBackendUnavailable) {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	return fmt.Errorf("%s failed: %w: %w", op, ErrBackendUnavailable, err)
}
