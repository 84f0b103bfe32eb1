// Package gormbackend serves scroll searches from SQL tables through gorm.
//
// SQL databases have no server side scroll contexts, so the backend keeps
// them itself: a scroll token names an in-memory entry holding the query and
// the continuation of the next batch. Continuations are keyset filters by
// default and LIMIT/OFFSET with WithOffsetScroll.
package gormbackend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Alp4ka/deeppager"
)

const DefaultIDColumn = "id"

type Backend struct {
	db           *gorm.DB
	logger       logrus.FieldLogger
	idColumn     string
	offsetScroll bool
	scrolls      *registry
}

type Option func(*Backend)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithIDColumn sets the unique column hits are identified by. It also breaks
// ties in every ordering.
func WithIDColumn(column string) Option {
	return func(b *Backend) {
		if column != "" {
			b.idColumn = column
		}
	}
}

// WithOffsetScroll continues scrolls with LIMIT/OFFSET instead of keyset
// filters.
func WithOffsetScroll() Option {
	return func(b *Backend) {
		b.offsetScroll = true
	}
}

func withClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.scrolls.now = now
	}
}

func New(db *gorm.DB, opts ...Option) *Backend {
	b := &Backend{
		db:       db,
		logger:   logrus.StandardLogger(),
		idColumn: DefaultIDColumn,
		scrolls:  newRegistry(time.Now),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Search - implements deeppager.SearchBackend. Targets must name exactly one
// table. From is ignored: scrolls always start at the first row.
func (b *Backend) Search(ctx context.Context, req deeppager.SearchRequest) (*deeppager.ScrollBatch, error) {
	table, err := singleTarget(req.Targets)
	if err != nil {
		return nil, err
	}

	pager := newScrollPager(req.Size, b.initialCursor(), b.withTiebreaker(req.Query.Sort))
	if err = pager.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	counted, err := applyFilter(b.db.WithContext(ctx).Table(table), req.Query.Filter)
	if err != nil {
		return nil, err
	}

	var total int64
	if err = counted.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("cannot count rows of '%s': %w", table, err)
	}

	hits, next, err := b.fetch(ctx, table, req.Query, pager)
	if err != nil {
		return nil, err
	}

	batch := &deeppager.ScrollBatch{Total: total, Hits: hits}
	if req.Scrolls() {
		batch.Token = b.scrolls.open(scrollEntry{
			table: table,
			query: req.Query,
			pager: next,
			total: total,
		}, req.KeepAlive)

		b.logger.WithFields(logrus.Fields{
			"scroll": batch.Token,
			"table":  table,
			"total":  total,
		}).Debug("scroll opened")
	}

	return batch, nil
}

// ScrollAdvance - implements deeppager.SearchBackend. Tokens stay the same
// for the whole life of a scroll.
func (b *Backend) ScrollAdvance(ctx context.Context, token string, keepAlive time.Duration) (*deeppager.ScrollBatch, error) {
	entry, err := b.scrolls.get(token)
	if err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"scroll": token,
		"after":  entry.pager.cursor.String(),
	}).Debug("scroll advanced")

	hits, next, err := b.fetch(ctx, entry.table, entry.query, entry.pager)
	if err != nil {
		return nil, err
	}
	b.scrolls.advance(token, next, deeppager.NormalizeKeepAlive(keepAlive))

	return &deeppager.ScrollBatch{Token: token, Total: entry.total, Hits: hits}, nil
}

// ScrollClose - implements deeppager.SearchBackend. Unknown tokens are
// ignored.
func (b *Backend) ScrollClose(_ context.Context, tokens []string) error {
	freed := b.scrolls.close(tokens)

	b.logger.WithFields(logrus.Fields{
		"requested": len(tokens),
		"freed":     freed,
	}).Debug("scrolls closed")

	return nil
}

// SearchByIDs - implements deeppager.SearchBackend.
func (b *Backend) SearchByIDs(ctx context.Context, req deeppager.IDsRequest) ([]deeppager.Hit, error) {
	table, err := singleTarget(req.Targets)
	if err != nil {
		return nil, err
	}

	if len(req.IDs) == 0 {
		return nil, nil
	}

	if err = req.Sort.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	db := b.db.WithContext(ctx).Table(table).Where(fmt.Sprintf("%s IN ?", b.idColumn), req.IDs)
	if columns := b.columns(req.Source, nil); len(columns) > 0 {
		db = db.Select(columns)
	}
	if len(req.Sort) > 0 {
		db = db.Order(req.Sort.ToSQL())
	}
	if req.Limit > 0 {
		db = db.Limit(req.Limit)
	}

	var rows []map[string]any
	if err = db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("cannot look up ids in '%s': %w", table, err)
	}

	return b.hits(rows, req.Source)
}

// ScrollsOpen returns the number of live scroll contexts.
func (b *Backend) ScrollsOpen() int {
	return b.scrolls.len()
}

func (b *Backend) fetch(ctx context.Context, table string, query deeppager.Query, pager *scrollPager) ([]deeppager.Hit, *scrollPager, error) {
	db, err := applyFilter(b.db.WithContext(ctx).Table(table), query.Filter)
	if err != nil {
		return nil, nil, err
	}

	if columns := b.columns(query.Source, pager.sort); len(columns) > 0 {
		db = db.Select(columns)
	}

	db, err = pager.Paginate(db)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", deeppager.ErrInvalidArgument, err)
	}

	var rows []map[string]any
	if err = db.Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("cannot scroll '%s': %w", table, err)
	}

	hits, err := b.hits(rows, query.Source)
	if err != nil {
		return nil, nil, err
	}

	next, err := pager.next(rows)
	if err != nil {
		return nil, nil, err
	}

	return hits, next, nil
}

func (b *Backend) initialCursor() Cursor {
	if b.offsetScroll {
		return NewOffsetCursor(0)
	}

	return NewKeysetCursor()
}

// withTiebreaker appends the id column so every ordering is total.
func (b *Backend) withTiebreaker(sort deeppager.Orderings) deeppager.Orderings {
	if sort.Has(b.idColumn) {
		return sort
	}

	return append(append(deeppager.Orderings{}, sort...), deeppager.OrderBy{
		Column:    b.idColumn,
		Direction: deeppager.DirectionASC,
	})
}

// columns lists the columns a projection needs. Nil selects every column.
func (b *Backend) columns(p deeppager.Projection, sort deeppager.Orderings) []string {
	switch {
	case p.Disabled:
		return lo.Uniq(append([]string{b.idColumn}, sort.Columns()...))
	case len(p.Includes) > 0:
		return lo.Uniq(append(append([]string{b.idColumn}, sort.Columns()...), p.Includes...))
	default:
		return nil
	}
}

func (b *Backend) hits(rows []map[string]any, p deeppager.Projection) ([]deeppager.Hit, error) {
	hits := make([]deeppager.Hit, 0, len(rows))
	for _, row := range rows {
		id, ok := row[b.idColumn]
		if !ok || id == nil {
			return nil, fmt.Errorf("row has no '%s' column", b.idColumn)
		}

		hit := deeppager.Hit{ID: fmt.Sprint(plainValue(id))}
		if !p.Disabled {
			source, err := json.Marshal(project(row, p))
			if err != nil {
				return nil, fmt.Errorf("cannot render row '%s': %w", hit.ID, err)
			}
			hit.Source = source
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

func project(row map[string]any, p deeppager.Projection) map[string]any {
	if len(p.Includes) > 0 {
		row = lo.PickByKeys(row, p.Includes)
	}
	if len(p.Excludes) > 0 {
		row = lo.OmitByKeys(row, p.Excludes)
	}

	return lo.MapValues(row, func(value any, _ string) any { return plainValue(value) })
}

// plainValue turns driver byte slices into text.
func plainValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}

func singleTarget(targets []string) (string, error) {
	targets = lo.Compact(targets)
	if len(targets) != 1 {
		return "", fmt.Errorf("%w: expected exactly one table, got %d", deeppager.ErrInvalidArgument, len(targets))
	}

	return targets[0], nil
}

// IsScrollNotFound reports whether err comes from an unknown or expired
// scroll token.
func IsScrollNotFound(err error) bool {
	return errors.Is(err, ErrScrollNotFound)
}

var _ deeppager.SearchBackend = (*Backend)(nil)
