package deeppager

import (
	"context"
	"encoding/json"
	"time"
)

// Projection is the source-field mask applied to hits. The zero value
// returns whole documents.
type Projection struct {
	// Disabled suppresses document bodies entirely; only ids come back.
	Disabled bool
	// Includes limits bodies to the listed fields.
	Includes []string
	// Excludes drops the listed fields from bodies.
	Excludes []string
}

// IsZero reports whether the projection returns whole documents.
func (p Projection) IsZero() bool {
	return !p.Disabled && len(p.Includes) == 0 && len(p.Excludes) == 0
}

// Query is an immutable filter, sort and projection specification.
//
// Filter is backend specific and passed through as-is: a json.RawMessage,
// string or map for Elasticsearch/OpenSearch, a gormbackend.Where or
// clause.Expression for SQL. A nil Filter matches every document.
type Query struct {
	Filter any
	Sort   Orderings
	Source Projection
}

// Hit is a single matched document.
type Hit struct {
	ID     string
	Source json.RawMessage
}

// ScrollBatch is one batch of a scroll walk. Token is empty when the search
// was issued without a keep-alive and no cursor was opened.
type ScrollBatch struct {
	Token string
	Total int64
	Hits  []Hit
}

// SearchRequest opens a search over Targets. A positive KeepAlive opens a
// scroll cursor retained for that long between advances.
type SearchRequest struct {
	Query     Query
	Targets   []string
	From      int
	Size      int
	KeepAlive time.Duration
}

// Scrolls reports whether the request opens a scroll cursor.
func (r SearchRequest) Scrolls() bool {
	return r.KeepAlive > 0
}

// IDsRequest looks documents up by identifier.
type IDsRequest struct {
	IDs     []string
	Targets []string
	Source  Projection
	Sort    Orderings
	Limit   int
}

// PageSizeLimiter is implemented by backends that cap the size of a single
// batch. Backends without it accept any positive page size.
type PageSizeLimiter interface {
	MaxPageSize() int
}

// SearchBackend is the search engine capability the pager walks.
// Implementations must be safe for concurrent use; each FetchPage call owns
// its cursor lineage exclusively.
type SearchBackend interface {
	Search(ctx context.Context, req SearchRequest) (*ScrollBatch, error)
	ScrollAdvance(ctx context.Context, token string, keepAlive time.Duration) (*ScrollBatch, error)
	ScrollClose(ctx context.Context, tokens []string) error
	SearchByIDs(ctx context.Context, req IDsRequest) ([]Hit, error)
}
