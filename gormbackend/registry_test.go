package gormbackend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tClock struct{ now time.Time }

func (c *tClock) Now() time.Time { return c.now }

func (c *tClock) Add(d time.Duration) { c.now = c.now.Add(d) }

func Test_registry_Lifecycle(t *testing.T) {
	clock := &tClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newRegistry(clock.Now)

	first := r.open(scrollEntry{table: "users", total: 3}, time.Minute)
	second := r.open(scrollEntry{table: "orders"}, 2*time.Minute)
	require.NotEqual(t, first, second)
	assert.Equal(t, 2, r.len())

	entry, err := r.get(first)
	require.NoError(t, err)
	assert.Equal(t, "users", entry.table)
	assert.EqualValues(t, 3, entry.total)

	clock.Add(50 * time.Second)
	next := newScrollPager(1, NewOffsetCursor(1), nil)
	r.advance(first, next, time.Minute)

	clock.Add(50 * time.Second)
	entry, err = r.get(first)
	require.NoError(t, err, "advance renews the keep-alive")
	assert.Same(t, next, entry.pager)

	clock.Add(30 * time.Second)
	_, err = r.get(second)
	require.ErrorIs(t, err, ErrScrollNotFound)
	assert.ErrorContains(t, err, "keep-alive expired")

	assert.Equal(t, 1, r.close([]string{first, second, "unknown"}))
	assert.Equal(t, 0, r.len())

	_, err = r.get(first)
	require.ErrorIs(t, err, ErrScrollNotFound)

	r.advance(first, next, time.Minute)
	assert.Equal(t, 0, r.len(), "closed scrolls stay closed")
}

func Test_registry_SweepsExpired(t *testing.T) {
	clock := &tClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newRegistry(clock.Now)

	r.open(scrollEntry{}, time.Second)
	r.open(scrollEntry{}, time.Second)
	clock.Add(time.Second)

	r.open(scrollEntry{}, time.Second)
	assert.Equal(t, 1, r.len())

	clock.Add(time.Second)
	assert.Equal(t, 0, r.close(nil))
	assert.Equal(t, 0, r.len())
}
