// Package dsl builds and parses the JSON bodies shared by the Elasticsearch
// and OpenSearch search, scroll and bulk APIs.
package dsl

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"

	"github.com/Alp4ka/deeppager"
)

// SearchBody is the body of a _search request.
type SearchBody struct {
	Query          json.RawMessage     `json:"query,omitempty"`
	Sort           []map[string]string `json:"sort,omitempty"`
	Source         any                 `json:"_source,omitempty"`
	From           int                 `json:"from"`
	Size           int                 `json:"size"`
	TrackTotalHits bool                `json:"track_total_hits"`
}

// FilterQuery converts a deeppager.Query filter into a query clause. Nil
// filters match every document.
func FilterQuery(filter any) (json.RawMessage, error) {
	switch f := filter.(type) {
	case nil:
		return json.RawMessage(`{"match_all":{}}`), nil
	case json.RawMessage:
		return validRaw(f)
	case []byte:
		return validRaw(f)
	case string:
		return validRaw([]byte(f))
	default:
		raw, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal query filter %T: %w", filter, err)
		}
		return raw, nil
	}
}

func validRaw(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{"match_all":{}}`), nil
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("query filter is not valid json")
	}

	return raw, nil
}

// SortClause renders orderings as a sort array. Without orderings walks use
// "_doc": the first page and every later scroll batch must share one order.
func SortClause(sort deeppager.Orderings, walk bool) []map[string]string {
	if len(sort) == 0 {
		if walk {
			return []map[string]string{{"_doc": "asc"}}
		}
		return nil
	}

	return lo.Map(sort, func(item deeppager.OrderBy, _ int) map[string]string {
		return map[string]string{item.Column: item.Direction.Lower()}
	})
}

// SourceClause renders a projection as a _source value.
func SourceClause(p deeppager.Projection) any {
	switch {
	case p.Disabled:
		return false
	case p.IsZero():
		return nil
	default:
		clause := map[string][]string{}
		if len(p.Includes) > 0 {
			clause["includes"] = p.Includes
		}
		if len(p.Excludes) > 0 {
			clause["excludes"] = p.Excludes
		}
		return clause
	}
}

// Search builds the body of a walk search. The sort does not depend on
// whether the request opens a scroll.
func Search(req deeppager.SearchRequest) ([]byte, error) {
	query, err := FilterQuery(req.Query.Filter)
	if err != nil {
		return nil, err
	}

	return json.Marshal(SearchBody{
		Query:          query,
		Sort:           SortClause(req.Query.Sort, true),
		Source:         SourceClause(req.Query.Source),
		From:           req.From,
		Size:           req.Size,
		TrackTotalHits: true,
	})
}

// IDs builds the body of an id filter search.
func IDs(req deeppager.IDsRequest) ([]byte, error) {
	query, err := json.Marshal(map[string]any{
		"bool": map[string]any{
			"filter": map[string]any{
				"ids": map[string]any{"values": req.IDs},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(SearchBody{
		Query:  query,
		Sort:   SortClause(req.Sort, false),
		Source: SourceClause(req.Source),
		Size:   req.Limit,
	})
}

// Scroll builds the body of a scroll advance request.
func Scroll(token string, keepAlive time.Duration) ([]byte, error) {
	return json.Marshal(map[string]string{
		"scroll":    KeepAlive(keepAlive),
		"scroll_id": token,
	})
}

// ClearScroll builds the body of a clear scroll request.
func ClearScroll(tokens []string) ([]byte, error) {
	return json.Marshal(map[string][]string{"scroll_id": tokens})
}

// KeepAlive renders a duration in the time unit syntax of the engines,
// choosing the largest unit that represents it exactly.
func KeepAlive(d time.Duration) string {
	d = deeppager.NormalizeKeepAlive(d)

	switch {
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	case d%time.Second == 0:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	default:
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	}
}

// Document is a document body addressed by id.
type Document struct {
	ID     string
	Source json.RawMessage
}

// BulkIndex renders documents as an NDJSON bulk body of index actions.
func BulkIndex(index string, docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		action, err := json.Marshal(map[string]any{"index": map[string]string{"_index": index, "_id": doc.ID}})
		if err != nil {
			return nil, err
		}

		var compact bytes.Buffer
		if err = json.Compact(&compact, doc.Source); err != nil {
			return nil, fmt.Errorf("document '%s': %w", doc.ID, err)
		}

		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(compact.Bytes())
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// BulkDelete renders ids as an NDJSON bulk body of delete actions.
func BulkDelete(index string, ids []string) ([]byte, error) {
	var buf bytes.Buffer
	for _, id := range ids {
		action, err := json.Marshal(map[string]any{"delete": map[string]string{"_index": index, "_id": id}})
		if err != nil {
			return nil, err
		}

		buf.Write(action)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// Targets joins index names the way the REST paths expect them.
func Targets(targets []string) string {
	return strings.Join(lo.Compact(targets), ",")
}
