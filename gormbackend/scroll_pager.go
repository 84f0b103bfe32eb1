package gormbackend

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Alp4ka/deeppager"
)

// scrollPager holds the state of one scroll: the batch size, the orderings
// rows are walked in and the continuation of the next batch.
type scrollPager struct {
	limit  int
	cursor Cursor
	sort   deeppager.Orderings
}

func newScrollPager(limit int, cursor Cursor, sort deeppager.Orderings) *scrollPager {
	return &scrollPager{
		limit:  limit,
		cursor: cursor,
		sort:   sort,
	}
}

// WithCursor returns a copy of the pager continuing from cursor.
func (c *scrollPager) WithCursor(cursor Cursor) *scrollPager {
	if c == nil {
		c = new(scrollPager)
	}

	next := *c
	next.cursor = cursor

	return &next
}

// Paginate applies orderings, continuation and limit to the dataset.
func (c *scrollPager) Paginate(db *gorm.DB) (*gorm.DB, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("cannot paginate: %w", err)
	}

	if len(c.sort) > 0 {
		db = db.Order(c.sort.ToSQL())
	}
	db = c.cursor.Apply(db)

	return db.Limit(c.limit), nil
}

// next returns the pager for the batch after rows.
func (c *scrollPager) next(rows []map[string]any) (*scrollPager, error) {
	cursor, err := c.cursor.advance(c.sort, rows)
	if err != nil {
		return nil, fmt.Errorf("cannot advance scroll cursor: %w", err)
	}

	return c.WithCursor(cursor), nil
}

func (c *scrollPager) validate() error {
	if c == nil {
		return fmt.Errorf("scroll pager is nil")
	}

	if c.limit <= 0 {
		return fmt.Errorf("invalid batch size %d", c.limit)
	}

	if c.cursor == nil {
		return fmt.Errorf("scroll pager has no cursor")
	}

	if err := c.sort.Validate(); err != nil {
		return err
	}

	return c.cursor.validate(c.sort)
}
