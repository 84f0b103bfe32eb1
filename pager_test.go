package deeppager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(docs []tDoc) []int64 {
	return lo.Map(docs, func(d tDoc, _ int) int64 { return d.Key })
}

func newTestRequest(page, size int) Request {
	return Request{
		Query:      &Query{Sort: Orderings{{Column: "key", Direction: DirectionASC}}},
		PageNumber: page,
		PageSize:   size,
		Targets:    []string{"docs"},
	}
}

func Test_FetchPage_ThirdPageOfTwentyFive(t *testing.T) {
	backend := newMemoryBackend(25)
	pager := NewDeepPager(backend)

	page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(3, 10))
	require.NoError(t, err)

	assert.Equal(t, []int64{21, 22, 23, 24, 25}, keys(page.List))
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, 3, page.PageNumber)
	assert.Equal(t, 10, page.PageSize)
	assert.False(t, page.HasNext())
	assert.Equal(t, int64(3), page.TotalPages())
	assert.Zero(t, backend.openScrolls())
}

func Test_FetchPage_FirstPage(t *testing.T) {
	backend := newMemoryBackend(25)
	pager := NewDeepPager(backend)

	page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(1, 10))
	require.NoError(t, err)

	assert.Equal(t, lo.RangeFrom[int64](1, 10), keys(page.List))
	require.Len(t, backend.searches, 1)
	assert.False(t, backend.searches[0].Scrolls(), "first page must not open a cursor")
	assert.Empty(t, backend.advances)
	assert.Empty(t, backend.closes)
	assert.Len(t, backend.idSearches, 1)
}

func Test_FetchPage_EmptyCollection(t *testing.T) {
	backend := newMemoryBackend(0)
	pager := NewDeepPager(backend)

	page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(1, 5))
	require.NoError(t, err)

	assert.Empty(t, page.List)
	assert.NotNil(t, page.List)
	assert.Zero(t, page.Total)
	assert.True(t, page.IsEmpty())
	assert.Empty(t, backend.advances)
	assert.Empty(t, backend.closes)
	assert.Empty(t, backend.idSearches)
	assert.Zero(t, backend.openScrolls())
}

func Test_FetchPage_AdvanceAndCloseCounts(t *testing.T) {
	for _, stable := range []bool{false, true} {
		for _, pageNumber := range []int{2, 3, 5} {
			t.Run(fmt.Sprintf("stable=%v page=%d", stable, pageNumber), func(t *testing.T) {
				backend := newMemoryBackend(50)
				backend.stableTokens = stable
				pager := NewDeepPager(backend)

				_, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(pageNumber, 10))
				require.NoError(t, err)

				require.Len(t, backend.advances, pageNumber-1)
				require.Len(t, backend.closes, 1, "cursors are closed in one batch")
				assert.Subset(t, backend.closes[0], backend.advances, "every intermediate token is closed")
				assert.Equal(t, lo.Uniq(backend.closes[0]), backend.closes[0])
				assert.Zero(t, backend.openScrolls())
			})
		}
	}
}

func Test_FetchPage_WalkDisablesSourceAndRestoresIt(t *testing.T) {
	backend := newMemoryBackend(30)
	pager := NewDeepPager(backend)

	req := newTestRequest(2, 10)
	req.Query.Source = Projection{Includes: []string{"name"}}

	_, err := FetchPage[tDoc](context.Background(), pager, req)
	require.NoError(t, err)

	require.Len(t, backend.searches, 1)
	walk := backend.searches[0]
	assert.True(t, walk.Query.Source.Disabled)
	assert.Equal(t, 0, walk.From)
	assert.Equal(t, 10, walk.Size)
	assert.Equal(t, DefaultKeepAlive, walk.KeepAlive)
	assert.Equal(t, req.Query.Sort, walk.Query.Sort)

	require.Len(t, backend.idSearches, 1)
	ids := backend.idSearches[0]
	assert.Equal(t, Projection{Includes: []string{"name"}}, ids.Source)
	assert.Equal(t, req.Query.Sort, ids.Sort)
	assert.Equal(t, 10, ids.Limit)
	assert.Len(t, ids.IDs, 10)
	assert.Equal(t, Projection{Includes: []string{"name"}}, req.Query.Source, "caller query is not mutated")
}

func Test_FetchPage_KeepAlive(t *testing.T) {
	backend := newMemoryBackend(30)

	pager := NewDeepPager(backend, WithDefaultKeepAlive(5*time.Minute))
	_, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(2, 10))
	require.NoError(t, err)

	req := newTestRequest(2, 10)
	req.KeepAlive = 30 * time.Second
	_, err = FetchPage[tDoc](context.Background(), pager, req)
	require.NoError(t, err)

	require.Len(t, backend.searches, 2)
	assert.Equal(t, 5*time.Minute, backend.searches[0].KeepAlive)
	assert.Equal(t, 30*time.Second, backend.searches[1].KeepAlive)
}

func Test_FetchPage_BeyondResultSet(t *testing.T) {
	tests := []struct {
		name       string
		docs       int
		pageNumber int
		pageSize   int
	}{
		{"exact multiple", 20, 3, 10},
		{"far beyond", 25, 9, 10},
		{"empty collection deep page", 0, 4, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMemoryBackend(tt.docs)
			pager := NewDeepPager(backend)

			page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(tt.pageNumber, tt.pageSize))
			require.NoError(t, err)

			assert.Empty(t, page.List)
			assert.Equal(t, int64(tt.docs), page.Total)
			assert.Empty(t, backend.idSearches)
			assert.LessOrEqual(t, len(backend.closes), 1)
			assert.Zero(t, backend.openScrolls(), "exhausted walks still release their cursor")
		})
	}
}

func Test_FetchPage_Idempotent(t *testing.T) {
	backend := newMemoryBackend(42)
	pager := NewDeepPager(backend)

	first, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(4, 7))
	require.NoError(t, err)
	second, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(4, 7))
	require.NoError(t, err)

	require.Equal(t, first, second)
	assert.Equal(t, lo.RangeFrom[int64](22, 7), keys(first.List))
}

func Test_FetchPage_DescendingSort(t *testing.T) {
	backend := newMemoryBackend(25)
	pager := NewDeepPager(backend)

	req := newTestRequest(2, 10)
	req.Query.Sort = Orderings{{Column: "key", Direction: DirectionDESC}}

	page, err := FetchPage[tDoc](context.Background(), pager, req)
	require.NoError(t, err)

	assert.Equal(t, []int64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6}, keys(page.List))
}

func Test_FetchPage_SkipsIDsDeletedMidCall(t *testing.T) {
	backend := newMemoryBackend(25)
	pager := NewDeepPager(backend)

	hits := []Hit{{ID: "doc-03", Source: []byte(`{"id":"doc-03","key":3}`)}}
	got := inIDOrder([]string{"doc-01", "doc-02", "doc-03"}, hits)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-03", got[0].ID)

	page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(1, 3))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, keys(page.List), "id search order is restored")
}

func Test_FetchPage_InvalidArguments(t *testing.T) {
	backend := newMemoryBackend(5)
	pager := NewDeepPager(backend)

	tests := []struct {
		name string
		req  Request
	}{
		{"zero page", newTestRequest(0, 10)},
		{"negative size", newTestRequest(1, -3)},
		{"nil query", Request{PageNumber: 1, PageSize: 10, Targets: []string{"docs"}}},
		{"no targets", Request{Query: &Query{}, PageNumber: 1, PageSize: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FetchPage[tDoc](context.Background(), pager, tt.req)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	assert.Empty(t, backend.searches)

	_, err := FetchPage[tDoc](context.Background(), nil, newTestRequest(1, 1))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

type limitedBackend struct {
	*memoryBackend
	max int
}

func (b limitedBackend) MaxPageSize() int { return b.max }

func Test_FetchPage_PageSizeLimit(t *testing.T) {
	t.Run("backend with a limit", func(t *testing.T) {
		backend := newMemoryBackend(8)
		pager := NewDeepPager(limitedBackend{memoryBackend: backend, max: 5})

		_, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(1, 6))
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.ErrorContains(t, err, "page size 6 exceeds 5")
		assert.Empty(t, backend.searches)

		page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(2, 5))
		require.NoError(t, err)
		assert.Equal(t, []int64{6, 7, 8}, keys(page.List))
	})

	t.Run("backend without a limit", func(t *testing.T) {
		pager := NewDeepPager(newMemoryBackend(3))

		page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(1, MaxPageSize+1))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, keys(page.List))
	})
}

func Test_FetchPage_BackendFailures(t *testing.T) {
	t.Run("initial search", func(t *testing.T) {
		backend := newMemoryBackend(25)
		backend.failSearch = errors.New("dial tcp: connection refused")
		pager := NewDeepPager(backend)

		_, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(2, 10))
		require.ErrorIs(t, err, ErrBackendUnavailable)
		assert.ErrorContains(t, err, "connection refused")
		assert.Empty(t, backend.closes)
	})

	t.Run("scroll advance closes opened cursors", func(t *testing.T) {
		backend := newMemoryBackend(50)
		backend.failAdvance = 2
		pager := NewDeepPager(backend)

		_, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(4, 10))
		require.ErrorIs(t, err, ErrBackendUnavailable)
		require.Len(t, backend.advances, 2)
		require.Len(t, backend.closes, 1)
		assert.Subset(t, backend.closes[0], backend.advances)
		assert.Zero(t, backend.openScrolls())
	})

	t.Run("id search", func(t *testing.T) {
		backend := newMemoryBackend(25)
		backend.failIDSearch = errors.New("503 Service Unavailable")
		pager := NewDeepPager(backend)

		_, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(2, 10))
		require.ErrorIs(t, err, ErrBackendUnavailable)
		assert.Zero(t, backend.openScrolls())
	})

	t.Run("close failure is logged, not returned", func(t *testing.T) {
		backend := newMemoryBackend(25)
		backend.failClose = errors.New("clear scroll timed out")
		logger, hook := test.NewNullLogger()
		pager := NewDeepPager(backend, WithLogger(logger))

		page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(2, 10))
		require.NoError(t, err)
		assert.Len(t, page.List, 10)

		require.Len(t, hook.AllEntries(), 1)
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.Equal(t, backend.failClose, hook.LastEntry().Data[logrus.ErrorKey])
	})

	t.Run("close failure does not mask advance failure", func(t *testing.T) {
		backend := newMemoryBackend(50)
		backend.failAdvance = 1
		backend.failClose = errors.New("clear scroll timed out")
		logger, hook := test.NewNullLogger()
		pager := NewDeepPager(backend, WithLogger(logger))

		_, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(3, 10))
		require.ErrorIs(t, err, ErrBackendUnavailable)
		assert.ErrorContains(t, err, "connection reset")
		assert.Len(t, hook.AllEntries(), 1)
	})
}

func Test_FetchPage_DecodeError(t *testing.T) {
	type strict struct {
		Key string `json:"key"`
	}

	backend := newMemoryBackend(5)
	pager := NewDeepPager(backend, WithCodec(NewJSONCodec(CodecConfig{})))

	_, err := FetchPage[strict](context.Background(), pager, newTestRequest(1, 5))
	require.ErrorIs(t, err, ErrDecode)
}

func Test_FetchPage_RoundTrip(t *testing.T) {
	codec := NewJSONCodec(CodecConfig{Schema: Schema{"key": FieldInt64}})
	backend := newMemoryBackend(12)
	pager := NewDeepPager(backend, WithCodec(codec))

	page, err := FetchPage[tDoc](context.Background(), pager, newTestRequest(2, 5))
	require.NoError(t, err)

	require.Len(t, page.List, 5)
	for i, doc := range page.List {
		assert.Equal(t, backend.docs[5+i], doc)
	}
}

func Test_FetchPage_DecodesIntoMaps(t *testing.T) {
	backend := newMemoryBackend(3)
	pager := NewDeepPager(backend)

	page, err := FetchPage[map[string]any](context.Background(), pager, newTestRequest(1, 2))
	require.NoError(t, err)

	require.Len(t, page.List, 2)
	assert.Equal(t, int64(2), page.List[1]["key"])
	assert.Equal(t, "doc-02", page.List[1]["id"])
}
