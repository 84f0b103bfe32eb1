package deeppager

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"
)

type tDoc struct {
	ID   string `json:"id"`
	Key  int64  `json:"key"`
	Name string `json:"name"`
}

// memoryBackend is an in-memory SearchBackend that records every call.
type memoryBackend struct {
	mu   sync.Mutex
	docs []tDoc

	scrolls map[string]*memoryScroll
	nextID  int
	// stableTokens makes advances keep the token, like Elasticsearch does.
	stableTokens bool

	searches     []SearchRequest
	advances     []string
	closes       [][]string
	idSearches   []IDsRequest
	failAdvance  int
	failSearch   error
	failClose    error
	failIDSearch error
}

type memoryScroll struct {
	docs   []tDoc
	offset int
	size   int
}

func newMemoryBackend(n int) *memoryBackend {
	b := &memoryBackend{scrolls: map[string]*memoryScroll{}}
	for i := 1; i <= n; i++ {
		b.docs = append(b.docs, tDoc{ID: fmt.Sprintf("doc-%02d", i), Key: int64(i), Name: "name " + strconv.Itoa(i)})
	}

	return b
}

func (b *memoryBackend) sorted(sort Orderings) []tDoc {
	docs := slices.Clone(b.docs)
	if len(sort) > 0 && sort[0].Column == "key" && sort[0].Direction == DirectionDESC {
		slices.Reverse(docs)
	}

	return docs
}

func (b *memoryBackend) hits(docs []tDoc, source Projection) []Hit {
	return lo.Map(docs, func(d tDoc, _ int) Hit {
		hit := Hit{ID: d.ID}
		if !source.Disabled {
			hit.Source, _ = json.Marshal(d)
		}
		return hit
	})
}

func (b *memoryBackend) Search(_ context.Context, req SearchRequest) (*ScrollBatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.searches = append(b.searches, req)
	if b.failSearch != nil {
		return nil, b.failSearch
	}

	docs := b.sorted(req.Query.Sort)
	end := min(req.From+req.Size, len(docs))
	batch := &ScrollBatch{
		Total: int64(len(docs)),
		Hits:  b.hits(docs[min(req.From, end):end], req.Query.Source),
	}
	if req.Scrolls() {
		b.nextID++
		batch.Token = fmt.Sprintf("scroll-%d", b.nextID)
		b.scrolls[batch.Token] = &memoryScroll{docs: docs, offset: end, size: req.Size}
	}

	return batch, nil
}

func (b *memoryBackend) ScrollAdvance(_ context.Context, token string, _ time.Duration) (*ScrollBatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advances = append(b.advances, token)
	if b.failAdvance > 0 && len(b.advances) == b.failAdvance {
		return nil, fmt.Errorf("connection reset")
	}

	s, ok := b.scrolls[token]
	if !ok {
		return nil, fmt.Errorf("no search context found for id [%s]", token)
	}

	end := min(s.offset+s.size, len(s.docs))
	batch := &ScrollBatch{Token: token, Total: int64(len(s.docs)), Hits: b.hits(s.docs[s.offset:end], Projection{Disabled: true})}
	s.offset = end

	if !b.stableTokens {
		delete(b.scrolls, token)
		b.nextID++
		batch.Token = fmt.Sprintf("scroll-%d", b.nextID)
		b.scrolls[batch.Token] = s
	}

	return batch, nil
}

func (b *memoryBackend) ScrollClose(_ context.Context, tokens []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closes = append(b.closes, slices.Clone(tokens))
	for _, token := range tokens {
		delete(b.scrolls, token)
	}

	return b.failClose
}

func (b *memoryBackend) SearchByIDs(_ context.Context, req IDsRequest) ([]Hit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idSearches = append(b.idSearches, req)
	if b.failIDSearch != nil {
		return nil, b.failIDSearch
	}

	docs := lo.Filter(b.docs, func(d tDoc, _ int) bool { return lo.Contains(req.IDs, d.ID) })
	// Engines return id lookups in index order unless sorted.
	slices.Reverse(docs)

	return b.hits(lo.Subset(docs, 0, uint(req.Limit)), req.Source), nil
}

func (b *memoryBackend) openScrolls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.scrolls)
}

var _ SearchBackend = (*memoryBackend)(nil)
