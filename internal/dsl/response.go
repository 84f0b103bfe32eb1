package dsl

import (
	"fmt"
	"io"

	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"

	"github.com/Alp4ka/deeppager"
)

// SearchResponse is the part of a search or scroll response the pager reads.
type SearchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total TotalHits   `json:"total"`
		Hits  []SearchHit `json:"hits"`
	} `json:"hits"`
}

type SearchHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// TotalHits accepts both the object form {"value": n} and the legacy
// integer form of hits.total.
type TotalHits struct {
	Value int64 `json:"value"`
}

func (t *TotalHits) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		t.Value = n
		return nil
	}

	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unexpected hits.total: %w", err)
	}
	t.Value = obj.Value

	return nil
}

// Batch converts the response into a scroll batch.
func (r *SearchResponse) Batch() *deeppager.ScrollBatch {
	return &deeppager.ScrollBatch{
		Token: r.ScrollID,
		Total: r.Hits.Total.Value,
		Hits:  r.Documents(),
	}
}

// Documents returns the hits of the response.
func (r *SearchResponse) Documents() []deeppager.Hit {
	return lo.Map(r.Hits.Hits, func(h SearchHit, _ int) deeppager.Hit {
		return deeppager.Hit{ID: h.ID, Source: h.Source}
	})
}

// DecodeSearch reads a search or scroll response body.
func DecodeSearch(body io.Reader) (*SearchResponse, error) {
	var resp SearchResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("cannot parse search response: %w", err)
	}

	return &resp, nil
}

// BulkResponse is the part of a bulk response needed to report item failures.
type BulkResponse struct {
	Errors bool                                `json:"errors"`
	Items  []map[string]BulkResponseItemResult `json:"items"`
}

type BulkResponseItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// DecodeBulk reads a bulk response body and reports the first failed item.
func DecodeBulk(body io.Reader) error {
	var resp BulkResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return fmt.Errorf("cannot parse bulk response: %w", err)
	}

	if !resp.Errors {
		return nil
	}

	failed := 0
	var first BulkResponseItemResult
	for _, item := range resp.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			if failed == 0 {
				first = result
			}
			failed++
		}
	}
	if failed == 0 {
		return fmt.Errorf("bulk request reported errors")
	}

	return fmt.Errorf("bulk request failed for %d items, first '%s': %s: %s",
		failed, first.ID, first.Error.Type, first.Error.Reason)
}

// ResponseError is a non-2xx answer of the engine.
type ResponseError struct {
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("engine responded %d", e.Status)
	}

	return fmt.Sprintf("engine responded %d: %s: %s", e.Status, e.Type, e.Reason)
}

// DecodeError reads the error body of a failed request. Bodies that are not
// engine errors still produce a ResponseError carrying the status.
func DecodeError(status int, body io.Reader) error {
	var resp struct {
		Error json.RawMessage `json:"error"`
	}
	respErr := &ResponseError{Status: status}
	if body == nil || json.NewDecoder(body).Decode(&resp) != nil || len(resp.Error) == 0 {
		return respErr
	}

	var cause struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(resp.Error, &cause); err != nil {
		// Some endpoints answer with a plain string error.
		var reason string
		if json.Unmarshal(resp.Error, &reason) == nil {
			respErr.Reason = reason
		}
		return respErr
	}
	respErr.Type, respErr.Reason = cause.Type, cause.Reason

	return respErr
}
