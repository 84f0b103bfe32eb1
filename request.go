package deeppager

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Request describes a single deep page lookup.
type Request struct {
	Query      *Query
	PageNumber int
	PageSize   int
	// Targets are the indices, aliases or tables to search. At least one.
	Targets []string
	// KeepAlive is the scroll retention between advances. Zero falls back to
	// the pager default.
	KeepAlive time.Duration
}

// validate checks the request. A positive maxPageSize bounds PageSize.
func (r Request) validate(maxPageSize int) error {
	if r.PageNumber <= 0 {
		return fmt.Errorf("%w: page number must be positive, got %d", ErrInvalidArgument, r.PageNumber)
	}

	if r.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidArgument, r.PageSize)
	} else if maxPageSize > 0 && r.PageSize > maxPageSize {
		return fmt.Errorf("%w: page size %d exceeds %d", ErrInvalidArgument, r.PageSize, maxPageSize)
	}

	if r.Query == nil {
		return fmt.Errorf("%w: query must not be nil", ErrInvalidArgument)
	}

	if len(lo.Compact(r.Targets)) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrInvalidArgument)
	}

	if err := r.Query.Sort.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return nil
}

// RawPageRequest is intended for API payloads. For proper code generation, inline it:
//
//	type MyFilter struct {
//	    Paging RawPageRequest `json:",inline"`
//	}
type RawPageRequest struct {
	// Page - 1-based page number. Non-positive values select the first page.
	Page int `json:"page"`
	// Size - maximum number of records to return in the response.
	Size int `json:"size"`
}

// Decode converts RawPageRequest into a Request over targets, normalizing
// page and size the way an API would rather than rejecting them.
func (p RawPageRequest) Decode(query *Query, targets ...string) Request {
	return Request{
		Query:      query,
		PageNumber: max(p.Page, 1),
		PageSize:   NormalizePageSize(p.Size),
		Targets:    targets,
	}
}
