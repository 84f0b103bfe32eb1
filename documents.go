package deeppager

import (
	"fmt"
	"strings"
)

// EncodeHits renders documents as bodies addressed by idOf, ready for a bulk
// index call.
func EncodeHits[T any](codec DocumentCodec, docs []T, idOf func(T) string) ([]Hit, error) {
	if codec == nil || idOf == nil {
		return nil, fmt.Errorf("%w: codec and id function are required", ErrInvalidArgument)
	}

	hits := make([]Hit, 0, len(docs))
	for i, doc := range docs {
		id := idOf(doc)
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: document %d has no id", ErrInvalidArgument, i)
		}

		source, err := codec.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("cannot encode document '%s': %w", id, err)
		}

		hits = append(hits, Hit{ID: id, Source: source})
	}

	return hits, nil
}
