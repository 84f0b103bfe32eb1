package deeppager

import "time"

const (
	// DefaultPageSize is used by RawPageRequest when no size was supplied.
	DefaultPageSize = 10
	// MaxPageSize matches the default index.max_result_window of
	// Elasticsearch and OpenSearch. It caps RawPageRequest sizes and is the
	// default batch limit of the search engine backends.
	MaxPageSize = 10000

	// DefaultKeepAlive is the scroll retention used when a request does not
	// set one.
	DefaultKeepAlive = time.Minute
)

func IsNormalizedPageSizeMax(size int, maxSize int) (int, bool) {
	if size <= 0 {
		return DefaultPageSize, false
	} else if size > maxSize {
		return maxSize, false
	}

	return size, true
}

func NormalizePageSizeMax(size int, maxSize int) int {
	ret, _ := IsNormalizedPageSizeMax(size, maxSize)
	return ret
}

func NormalizePageSize(size int) int {
	return NormalizePageSizeMax(size, MaxPageSize)
}

// NormalizeKeepAlive returns DefaultKeepAlive for non-positive durations.
func NormalizeKeepAlive(keepAlive time.Duration) time.Duration {
	if keepAlive <= 0 {
		return DefaultKeepAlive
	}

	return keepAlive
}
