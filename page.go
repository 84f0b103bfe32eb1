package deeppager

// Page is a page of decoded documents.
type Page[T any] struct {
	// PageNumber is the 1-based page number that was requested.
	PageNumber int `json:"pageNumber"`
	// PageSize is the requested page size; List may be shorter.
	PageSize int `json:"pageSize"`
	// Total is the number of matches reported by the first search of the
	// walk. Documents written during the walk are not reflected.
	Total int64 `json:"total"`
	// List holds the documents of the page in result order.
	List []T `json:"list"`
}

// IsEmpty reports whether the page holds no documents.
func (p *Page[T]) IsEmpty() bool {
	return p == nil || len(p.List) == 0
}

// TotalPages returns the number of pages of PageSize covering Total.
func (p *Page[T]) TotalPages() int64 {
	if p == nil || p.PageSize <= 0 {
		return 0
	}

	size := int64(p.PageSize)

	return (p.Total + size - 1) / size
}

// HasNext reports whether another page follows according to Total.
func (p *Page[T]) HasNext() bool {
	return p != nil && int64(p.PageNumber) < p.TotalPages()
}
